package entrypoint

// Price is an entrypoint's own price: either FlatPrice or PerKindPrice.
type Price interface {
	isPrice()
}

// FlatPrice applies the same price to every call kind.
type FlatPrice string

// PerKindPrice prices invoke and stream calls separately. An empty field
// falls back to the payments default price.
type PerKindPrice struct {
	Invoke string
	Stream string
}

func (FlatPrice) isPrice()    {}
func (PerKindPrice) isPrice() {}

// PriceFor returns the price p sets for kind, if any.
func PriceFor(p Price, kind Kind) (string, bool) {
	switch v := p.(type) {
	case FlatPrice:
		return string(v), v != ""
	case PerKindPrice:
		switch kind {
		case KindInvoke:
			return v.Invoke, v.Invoke != ""
		case KindStream:
			return v.Stream, v.Stream != ""
		}
	case *PerKindPrice:
		if v != nil {
			return PriceFor(*v, kind)
		}
	}
	return "", false
}
