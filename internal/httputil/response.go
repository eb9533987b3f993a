package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// Envelope is the JSON response wrapper used by every API endpoint. Sensor
// firmware in the field parses the success flag, so the shape stays stable.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteSuccess writes a success envelope with the given status code and data.
func WriteSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: true, Data: data, Message: message}); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteError writes an error envelope with the given status code and message.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: false, Error: msg}); err != nil {
		log.Printf("failed to encode json error response: %v", err)
	}
}

// BadRequest writes a 400 Bad Request error envelope.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

// Unauthorized writes a 401 Unauthorized error envelope.
func Unauthorized(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusUnauthorized, msg)
}

// NotFound writes a 404 Not Found error envelope.
func NotFound(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusNotFound, msg)
}

// MethodNotAllowed writes a 405 Method Not Allowed error envelope.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// InternalServerError writes a 500 Internal Server Error envelope.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusInternalServerError, msg)
}
