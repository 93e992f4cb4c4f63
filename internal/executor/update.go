package executor

import (
	"fmt"

	"github.com/accelgraph/accelgraph/internal/graph"
)

// SetKernelNodeParams swaps the launch parameters of a kernel node in the
// instantiated clone. node identifies the node in the source graph the
// executable was instantiated from. The update takes effect on the next
// launch; the node's packet cache is invalidated and recaptured then.
func (e *Executable) SetKernelNodeParams(node *graph.Node, p graph.KernelParams) error {
	cn, err := e.GetClonedNode(node)
	if err != nil {
		return fmt.Errorf("set kernel node params: %w", err)
	}
	if err := cn.SetKernelParams(p); err != nil {
		return fmt.Errorf("set kernel node params: %w", err)
	}
	return nil
}

// SetMemcpyNodeParams swaps the copy parameters of a memcpy node in the
// instantiated clone.
func (e *Executable) SetMemcpyNodeParams(node *graph.Node, p graph.MemcpyParams) error {
	cn, err := e.GetClonedNode(node)
	if err != nil {
		return fmt.Errorf("set memcpy node params: %w", err)
	}
	if err := cn.SetMemcpyParams(p); err != nil {
		return fmt.Errorf("set memcpy node params: %w", err)
	}
	return nil
}

// SetMemcpy3DNodeParams swaps the parameters of a strided-copy node in the
// instantiated clone.
func (e *Executable) SetMemcpy3DNodeParams(node *graph.Node, p graph.Memcpy3DParams) error {
	cn, err := e.GetClonedNode(node)
	if err != nil {
		return fmt.Errorf("set memcpy3d node params: %w", err)
	}
	if err := cn.SetMemcpy3DParams(p); err != nil {
		return fmt.Errorf("set memcpy3d node params: %w", err)
	}
	return nil
}

// SetMemsetNodeParams swaps the fill parameters of a memset node in the
// instantiated clone. Region shrinks within the originally instantiated
// bounds are allowed; the height and depth of a multidimensional fill
// must match the instantiated values.
func (e *Executable) SetMemsetNodeParams(node *graph.Node, p graph.MemsetParams) error {
	cn, err := e.GetClonedNode(node)
	if err != nil {
		return fmt.Errorf("set memset node params: %w", err)
	}
	if err := cn.SetMemsetParams(p); err != nil {
		return fmt.Errorf("set memset node params: %w", err)
	}
	return nil
}

// SetNodeEnabled toggles a kernel, memcpy or memset node in the instantiated
// clone. A disabled node runs as a no-op while keeping its position in the
// dependency order.
func (e *Executable) SetNodeEnabled(node *graph.Node, enabled bool) error {
	cn, err := e.GetClonedNode(node)
	if err != nil {
		return fmt.Errorf("set node enabled: %w", err)
	}
	if err := cn.SetEnabled(enabled); err != nil {
		return fmt.Errorf("set node enabled: %w", err)
	}
	return nil
}
