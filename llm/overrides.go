package llm

// RequestOverrides carries user preferences that win over assistant settings
// for one call. The zero value changes nothing.
type RequestOverrides struct {
	Model       string
	APIType     APIType
	Temperature *float64
	MaxTokens   int
}

// IsZero reports whether no override is set
func (o RequestOverrides) IsZero() bool {
	return o.Model == "" && o.APIType == "" && o.Temperature == nil && o.MaxTokens == 0
}

// Apply returns req with the overridden fields replaced
func (o RequestOverrides) Apply(req Request) Request {
	if o.Model != "" {
		req.Model = o.Model
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		req.MaxTokens = o.MaxTokens
	}
	return req
}
