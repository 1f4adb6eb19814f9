package model

// ActionRequest is one provider-initiated side effect: the model asked
// the system to run a named action with an argument map. Transient,
// never persisted.
type ActionRequest struct {
	Name   string
	Args   map[string]any
	UserID string
}

// ActionResult is the outcome of executing an ActionRequest.
type ActionResult struct {
	Success bool
	Message string
	Data    map[string]any
}

// Failure builds a failed result with the given message.
func Failure(message string) ActionResult {
	return ActionResult{Success: false, Message: message}
}

// Succeed builds a successful result with the given message.
func Succeed(message string) ActionResult {
	return ActionResult{Success: true, Message: message}
}
