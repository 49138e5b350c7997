package dag

// Three-color depth-first topological sort. White nodes are unvisited,
// gray nodes are on the current DFS stack, black nodes are done. A gray
// neighbor is a back edge and therefore a cycle.

type color uint8

const (
	white color = iota
	gray
	black
)

// TopoSort returns the nodes in topological order: every node appears
// after all of its inputs. On a cycle it fails with a CycleError whose
// Path renders the cycle forward (entry node repeated at the end).
// Nodes are visited in insertion order, making the result deterministic
// for a given construction sequence.
func (d *DAG) TopoSort() ([]*Node, error) {
	colors := make(map[string]color, len(d.nodes))
	var stack []*Node
	var post []*Node

	var visit func(n *Node) *CycleError
	visit = func(n *Node) *CycleError {
		colors[n.ID] = gray
		stack = append(stack, n)

		for _, out := range n.outputs {
			switch colors[out.ID] {
			case white:
				if cerr := visit(out); cerr != nil {
					return cerr
				}
			case gray:
				return cycleFromStack(stack, out)
			}
		}

		stack = stack[:len(stack)-1]
		colors[n.ID] = black
		post = append(post, n)
		return nil
	}

	for _, n := range d.seq {
		if colors[n.ID] != white {
			continue
		}
		if cerr := visit(n); cerr != nil {
			return nil, cerr
		}
	}

	// Post-order is reverse topological; flip it.
	order := make([]*Node, len(post))
	for i, n := range post {
		order[len(post)-1-i] = n
	}
	return order, nil
}

// cycleFromStack extracts the cycle path from the DFS stack. The stack
// holds the forward traversal from the root; the slice from the back
// edge's target onward, with the target appended again, is the cycle in
// forward order.
func cycleFromStack(stack []*Node, target *Node) *CycleError {
	start := 0
	for i, n := range stack {
		if n == target {
			start = i
			break
		}
	}

	path := make([]string, 0, len(stack)-start+1)
	for _, n := range stack[start:] {
		path = append(path, n.ID)
	}
	path = append(path, target.ID)
	return &CycleError{Path: path}
}
