package util

import (
	"strconv"
	"strings"
)

// KeywordArgs splits "key=value" arguments into a map. Bare words are
// collected under the empty key, last one winning.
func KeywordArgs(args []string) map[string]string {
	ret := map[string]string{}
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "="); ok {
			ret[key] = value
		} else {
			ret[""] = arg
		}
	}
	return ret
}

// ParseArg converts value to a number or boolean where it reads as one,
// otherwise returns the string unchanged.
func ParseArg(value string) interface{} {
	if num, err := strconv.ParseFloat(value, 64); err == nil {
		return num
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// ParseArgs interprets command arguments like "on level=50 colour=red",
// returning the bare command and the typed keyword fields.
func ParseArgs(args []string) (string, map[string]interface{}) {
	command := ""
	fields := map[string]interface{}{}
	for field, value := range KeywordArgs(args) {
		if field == "" {
			command = value
			continue
		}
		fields[field] = ParseArg(value)
	}
	return command, fields
}
