package omapi

// Status is the closed result-code set returned by every runtime operation.
// It implements error so outer layers can match with errors.Is.
type Status int

const (
	StatusSuccess Status = iota
	StatusUnchanged
	StatusNotFound
	StatusInvalidArgument
	StatusNotYet
	StatusNoMemory
	StatusNoResources
	StatusHostUnknown
	StatusConnectionRefused
	StatusNetworkUnreachable
	StatusNotConnected
	StatusKeyConflict
	StatusNoKeysSpecified
	StatusNotImplemented
	StatusUnexpected
)

var statusText = [...]string{
	StatusSuccess:            "success",
	StatusUnchanged:          "unchanged",
	StatusNotFound:           "not found",
	StatusInvalidArgument:    "invalid argument",
	StatusNotYet:             "not yet",
	StatusNoMemory:           "out of memory",
	StatusNoResources:        "ran out of resources",
	StatusHostUnknown:        "host unknown",
	StatusConnectionRefused:  "connection refused",
	StatusNetworkUnreachable: "network unreachable",
	StatusNotConnected:       "not connected",
	StatusKeyConflict:        "key conflict",
	StatusNoKeysSpecified:    "no keys specified",
	StatusNotImplemented:     "not implemented",
	StatusUnexpected:         "unexpected error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusText) {
		return "unknown status"
	}
	return statusText[s]
}

func (s Status) Error() string {
	return "omapi: " + s.String()
}

// OK reports whether s is a terminal success (Success or Unchanged).
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusUnchanged
}

// Err returns nil for OK statuses and s otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return s
}
