package agent

// buildBranchPath composes the dotted branch label of a parallel branch.
// Nested fan-outs extend their parent's label.
func buildBranchPath(parent, child string) string {
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	default:
		return parent + "." + child
	}
}
