// Package template merges a team's function body into a per-language I/O
// wrapper so parameter-based problems run as complete programs.
package template

import (
	"strings"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/pkg/errors"
)

// Marker is the single substitution point inside wrapper templates.
const Marker = registry.UserCodeMarker

// RenderSignature returns the author-visible declaration for a problem and
// language. Wrapper internals never appear in the returned text.
func RenderSignature(problem *model.Problem, lang registry.Language) (string, error) {
	signature := lang.Signature
	if problem != nil {
		if override, ok := problem.Signatures[lang.ID]; ok && override != "" {
			signature = override
		}
	}
	if signature == "" {
		return "", errors.Newf(errors.TemplateMalformed, "language %q has no signature template", lang.ID)
	}
	if strings.Contains(signature, Marker) {
		return "", errors.Newf(errors.TemplateMalformed, "signature template for %q leaks the wrapper marker", lang.ID)
	}
	return signature, nil
}

// AssembleProgram substitutes the user's function body into the wrapper at
// the marker. A wrapper without exactly one marker is malformed and the
// submission is rejected before anything is scheduled.
func AssembleProgram(problem *model.Problem, lang registry.Language, userBody string) (string, error) {
	wrapper := lang.Wrapper
	if problem != nil {
		if override, ok := problem.Wrappers[lang.ID]; ok && override != "" {
			wrapper = override
		}
	}
	if wrapper == "" {
		return "", errors.Newf(errors.TemplateMalformed, "language %q has no wrapper template", lang.ID)
	}
	switch strings.Count(wrapper, Marker) {
	case 1:
	case 0:
		return "", errors.Newf(errors.TemplateMalformed, "wrapper template for %q is missing the user code marker", lang.ID)
	default:
		return "", errors.Newf(errors.TemplateMalformed, "wrapper template for %q has multiple user code markers", lang.ID)
	}
	return strings.Replace(wrapper, Marker, userBody, 1), nil
}
