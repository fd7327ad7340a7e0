// Package logging centralizes slog construction and the structured field
// conventions used across montage: standardized keys, context-derived
// attributes, and console/JSON output selection.
package logging
