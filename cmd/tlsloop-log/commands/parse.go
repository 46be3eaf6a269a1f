package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/log"
)

// FilterFlags holds the raw filter flag values shared by view, export and
// filter.
type FilterFlags struct {
	RunID      string
	EndpointID string
	Role       string
	Layer      string
	Category   string
	TimeStart  string
	TimeEnd    string
}

// Build converts the flag values into a log.Filter.
func (f FilterFlags) Build() (log.Filter, error) {
	filter := log.Filter{
		RunID:      f.RunID,
		EndpointID: f.EndpointID,
	}

	if f.Role != "" {
		r, err := ParseRoleFlag(f.Role)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Role = &r
	}
	if f.Layer != "" {
		l, err := ParseLayerFlag(f.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if f.Category != "" {
		c, err := ParseCategoryFlag(f.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	if f.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, f.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if f.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, f.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

// ParseRoleFlag parses a role (case-insensitive).
func ParseRoleFlag(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "server":
		return log.RoleServer, nil
	case "client":
		return log.RoleClient, nil
	case "harness":
		return log.RoleHarness, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be server, client, or harness)", s)
	}
}

// ParseLayerFlag parses a layer (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "tls":
		return log.LayerTLS, nil
	case "harness":
		return log.LayerHarness, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, tls, or harness)", s)
	}
}

// ParseCategoryFlag parses a category (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "milestone":
		return log.CategoryMilestone, nil
	case "payload":
		return log.CategoryPayload, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, milestone, payload, or error)", s)
	}
}
