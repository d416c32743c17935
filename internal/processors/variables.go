package processors

import (
	"fmt"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
)

type variableUpdateProcessor struct{ base }

func (p *variableUpdateProcessor) Process(cmd engine.Command) error {
	doc := cmd.Value().(record.VariableDocumentRecord)
	if doc.ScopeKey == 0 {
		doc.ScopeKey = cmd.Key()
	}

	instance, found, err := p.st.Elements.Get(doc.ScopeKey)
	if err != nil {
		return err
	}
	if !found {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to update variables of element instance with key '%d', but no such element instance was found", doc.ScopeKey))
	}
	if doc.TenantID == "" {
		doc.TenantID = instance.Value.TenantID
	}
	if doc.TenantID != instance.Value.TenantID {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to update variables of element instance with key '%d', but no such element instance was found for tenant '%s'",
			doc.ScopeKey, doc.TenantID))
	}

	key, err := p.st.Keys.NextKey()
	if err != nil {
		return err
	}
	if err := p.w.State.AppendFollowUpEvent(key, record.VariableDocumentUpdated, doc); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.VariableDocumentUpdated, doc, cmd)
}
