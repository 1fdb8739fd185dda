package agentcard

// UpsertExtension returns a copy of caps whose extension list holds exactly one
// entry for ext.URI.
//
// The new entry takes the position of the first existing entry with the same
// URI; later duplicates are dropped. When no entry matches, ext is appended.
// All other extensions keep their relative order. caps is not modified.
func UpsertExtension(caps Capabilities, ext Extension) Capabilities {
	out := caps
	out.Extensions = make([]Extension, 0, len(caps.Extensions)+1)

	placed := false
	for _, existing := range caps.Extensions {
		if existing.URI != ext.URI {
			out.Extensions = append(out.Extensions, existing.Clone())
			continue
		}
		if !placed {
			out.Extensions = append(out.Extensions, ext.Clone())
			placed = true
		}
	}
	if !placed {
		out.Extensions = append(out.Extensions, ext.Clone())
	}
	return out
}

// Clone returns a deep copy of the extension.
func (e Extension) Clone() Extension {
	out := e
	if e.Required != nil {
		v := *e.Required
		out.Required = &v
	}
	out.Params = cloneMap(e.Params)
	return out
}

// Clone returns a deep copy of the card. Schema maps, params and slices are
// copied so the result shares no mutable state with c.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	out := *c

	out.Capabilities.Extensions = nil
	for _, ext := range c.Capabilities.Extensions {
		out.Capabilities.Extensions = append(out.Capabilities.Extensions, ext.Clone())
	}

	if c.Entrypoints != nil {
		out.Entrypoints = make(map[string]EntrypointCard, len(c.Entrypoints))
		for k, ep := range c.Entrypoints {
			cp := ep
			cp.InputSchema = cloneMap(ep.InputSchema)
			cp.OutputSchema = cloneMap(ep.OutputSchema)
			if ep.Pricing != nil {
				p := *ep.Pricing
				cp.Pricing = &p
			}
			out.Entrypoints[k] = cp
		}
	}

	out.Skills = nil
	for _, s := range c.Skills {
		cp := s
		cp.Tags = append([]string(nil), s.Tags...)
		cp.InputModes = append([]string(nil), s.InputModes...)
		cp.OutputModes = append([]string(nil), s.OutputModes...)
		out.Skills = append(out.Skills, cp)
	}

	out.DefaultInputModes = append([]string(nil), c.DefaultInputModes...)
	out.DefaultOutputModes = append([]string(nil), c.DefaultOutputModes...)

	out.Payments = nil
	for _, p := range c.Payments {
		cp := p
		if p.PriceModel != nil {
			pm := *p.PriceModel
			cp.PriceModel = &pm
		}
		cp.Extensions = cloneMap(p.Extensions)
		out.Payments = append(out.Payments, cp)
	}

	out.Registrations = append([]Registration(nil), c.Registrations...)
	out.TrustModels = append([]string(nil), c.TrustModels...)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
