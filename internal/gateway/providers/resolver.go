package providers

import "strings"

// ModelSeparator splits a composite model id into provider and upstream model.
const ModelSeparator = "@"

// ParseModelID splits "provider@model" on the first separator. The model part
// is returned verbatim; whether the upstream accepts it is for the upstream
// to decide.
func ParseModelID(id string) (provider, model string, err error) {
	provider, model, found := strings.Cut(id, ModelSeparator)
	if !found || provider == "" {
		return "", "", ErrInvalidModelFormat
	}
	return provider, model, nil
}
