// Package pipeline builds orchestration trees from YAML documents.
//
// A document names a root node; every node has a type and the fields that
// type needs. Models, tools, classifiers and condition checkers are
// referenced by name and resolved against a Registry at build time.
//
//	name: coordinator
//	root:
//	  type: conditional
//	  name: coordinator
//	  router:
//	    name: classify
//	    type: router
//	    model: default
//	    routes:
//	      booker: Books flights and hotels.
//	      info: Answers general questions.
//	  branches:
//	    booker: {type: generator, name: booker, model: default}
//	    info: {type: generator, name: info, model: default}
//
// Supported node types: generator, tool, fallback, router, conditional,
// condition, sequential, parallel, loop and reflection.
package pipeline
