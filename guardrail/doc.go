// Package guardrail provides pre- and post-invocation checks that nodes run
// around their capability call.
//
// A guardrail either lets the invocation proceed or rejects it with a
// *Rejection. Pre-invocation guardrails see the node's effective input and
// arguments before the model or tool is called; post-invocation guardrails
// see the produced output before any state delta is built and may rewrite it.
// A Chain evaluates guardrails in registration order and stops at the first
// rejection.
//
// Rejections are not failures: the node converts them into a rejected event
// carrying the message, and no state is written.
package guardrail
