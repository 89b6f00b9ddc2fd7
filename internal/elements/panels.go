package elements

import (
	"context"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/htmlwalk"
	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// Panel shows its content only while the named panel renders.
type Panel struct {
	Show qdata.Panel
}

func (p Panel) Render(_ context.Context, call *element.Call) (string, error) {
	if call.Node == nil || call.Data.Panel() != p.Show {
		return "", nil
	}
	inner, err := htmlwalk.Inner(call.Node)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(inner), nil
}
