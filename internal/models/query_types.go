// internal/models/query_types.go
package models

import (
	"fmt"
	"strings"
)

// ParamType is the kind of value a template parameter accepts.
type ParamType string

const (
	ParamCategory    ParamType = "category"
	ParamRegion      ParamType = "region"
	ParamSalesperson ParamType = "salesperson"
	ParamCSO         ParamType = "cso"
	ParamCluster     ParamType = "cluster"
	ParamDateRange   ParamType = "date_range"
	ParamDirection   ParamType = "direction"
	ParamCount       ParamType = "count"
)

// EntityTypes lists the parameter types resolved against reference sets.
var EntityTypes = []ParamType{ParamCategory, ParamRegion, ParamSalesperson, ParamCSO, ParamCluster}

// IsEntity reports whether values of t come from a reference set.
func (t ParamType) IsEntity() bool {
	switch t {
	case ParamCategory, ParamRegion, ParamSalesperson, ParamCSO, ParamCluster:
		return true
	}
	return false
}

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case ParamCategory, ParamRegion, ParamSalesperson, ParamCSO, ParamCluster,
		ParamDateRange, ParamDirection, ParamCount:
		return true
	}
	return false
}

// Label is the user-facing name of the type.
func (t ParamType) Label() string {
	switch t {
	case ParamDateRange:
		return "time period"
	case ParamDirection:
		return "sort order"
	case ParamCount:
		return "number of results"
	case ParamCSO:
		return "CSO"
	}
	return string(t)
}

// Channel is the sales channel a template reports on. The zero value
// covers every channel.
type Channel string

const (
	ChannelDomestic Channel = "domestic"
	ChannelExport   Channel = "export"
)

// Valid reports whether c is empty or a known channel.
func (c Channel) Valid() bool {
	switch c {
	case "", ChannelDomestic, ChannelExport:
		return true
	}
	return false
}

// Direction is the sort direction of a ranked result.
type Direction string

const (
	Descending Direction = "DESC"
	Ascending  Direction = "ASC"
)

// ParseDirection accepts ASC/DESC in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DESC":
		return Descending, nil
	case "ASC":
		return Ascending, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// Word is "top" for descending and "bottom" for ascending.
func (d Direction) Word() string {
	if d == Ascending {
		return "bottom"
	}
	return "top"
}

// Superlative is "highest" for descending and "lowest" for ascending.
func (d Direction) Superlative() string {
	if d == Ascending {
		return "lowest"
	}
	return "highest"
}

// Reverse flips the direction.
func (d Direction) Reverse() Direction {
	if d == Ascending {
		return Descending
	}
	return Ascending
}
