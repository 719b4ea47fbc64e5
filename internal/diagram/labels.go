package diagram

import "strings"

func stripVisibility(label string) string {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return ""
	}
	switch trimmed[0] {
	case '+', '-', '#', '~':
		return strings.TrimSpace(trimmed[1:])
	}
	return trimmed
}

// parseAttributeLabel splits "+ name: Type" into name and type. A label without a
// colon yields the whole label as name and an empty type.
func parseAttributeLabel(label string) (string, string) {
	cleaned := stripVisibility(label)
	name, typ, found := strings.Cut(cleaned, ":")
	if !found {
		return cleaned, ""
	}
	return strings.TrimSpace(name), strings.TrimSpace(typ)
}

// parseMethodLabel splits "+ name(a: A, b: B): Ret" into name, parameter types and return type.
// Malformed labels keep the cleaned label as name and leave params and return type empty.
func parseMethodLabel(label string) (string, []string, string) {
	cleaned := stripVisibility(label)
	open := strings.Index(cleaned, "(")
	closing := strings.LastIndex(cleaned, ")")
	if open < 0 || closing < open {
		return cleaned, nil, ""
	}

	name := strings.TrimSpace(cleaned[:open])
	params := parseParameters(cleaned[open+1 : closing])

	rest := strings.TrimSpace(cleaned[closing+1:])
	returnType := ""
	if strings.HasPrefix(rest, ":") {
		returnType = strings.TrimSpace(rest[1:])
	}

	return name, params, returnType
}

func parseParameters(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}

	parts := strings.Split(list, ",")
	params := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, typ, found := strings.Cut(part, ":"); found {
			part = strings.TrimSpace(typ)
		}
		params = append(params, part)
	}
	return params
}

// parseMessageLabel splits "1.2: name(a: A): Ret" into its sequence number and the
// method-style remainder. Labels without a numeric prefix have no sequence.
func parseMessageLabel(label string) Message {
	cleaned := strings.TrimSpace(label)

	var sequence string
	if head, rest, found := strings.Cut(cleaned, ":"); found && isSequenceNumber(strings.TrimSpace(head)) {
		sequence = strings.TrimSpace(head)
		cleaned = strings.TrimSpace(rest)
	}

	name, params, returnType := parseMethodLabel(cleaned)
	return Message{Sequence: sequence, Name: name, Parameters: params, ReturnType: returnType}
}

func isSequenceNumber(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case r >= 'a' && r <= 'z':
		default:
			return false
		}
	}
	return true
}
