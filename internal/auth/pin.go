package auth

import "crypto/subtle"

// PINResult is the JSON body of the legacy PIN endpoint.
type PINResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	msgInvalidPIN     = "Please enter a valid 4-digit code."
	msgWrongPIN       = "Invalid code. Please try again."
	msgAuthenticated  = "Authentication successful."
	msgInvalidRequest = "Invalid request."
)

// InvalidRequest is returned for anything other than a POST.
func InvalidRequest() PINResult {
	return PINResult{Status: "error", Message: msgInvalidRequest}
}

// CheckPIN compares pin against expected. Any 4-character value is
// accepted for comparison; an empty expected PIN never matches.
func CheckPIN(expected, pin string) PINResult {
	if len(pin) != 4 {
		return PINResult{Status: "error", Message: msgInvalidPIN}
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(pin)) != 1 {
		return PINResult{Status: "error", Message: msgWrongPIN}
	}
	return PINResult{Status: "success", Message: msgAuthenticated}
}
