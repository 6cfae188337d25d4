package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"slotleds/slot"
)

func RespondInternalServiceError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(err.Error()))
}

func RespondNotFoundError(w http.ResponseWriter, body string) {
	w.WriteHeader(http.StatusNotFound)
	if body == "" {
		body = "Not found"
	}
	RespondText(w, body)
}

func RespondBadRequest(w http.ResponseWriter, message string) {
	w.WriteHeader(http.StatusBadRequest)
	RespondText(w, message)
}

func RespondConflict(w http.ResponseWriter, message string) {
	w.WriteHeader(http.StatusConflict)
	RespondText(w, message)
}

func RespondText(w http.ResponseWriter, body string) {
	w.Write([]byte(body))
}

// RespondJSON encodes body before writing anything, so an encoding failure
// still gets a 500.
func RespondJSON(w http.ResponseWriter, body any) {
	js, err := json.Marshal(body)
	if err != nil {
		RespondInternalServiceError(w, err)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(append(js, '\n'))
}

// RespondSlotError maps slot errors onto status codes.
func RespondSlotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slot.ErrUnknownSlot):
		RespondNotFoundError(w, err.Error())
	case errors.Is(err, slot.ErrInvalidInterval):
		RespondBadRequest(w, err.Error())
	case errors.Is(err, slot.ErrNotWired):
		RespondConflict(w, err.Error())
	default:
		RespondInternalServiceError(w, err)
	}
}
