package handlers

import (
	"net/http"

	"github.com/iago/treasury-bizcase-back/internal/service"
)

// BusinessCases generates a business case within the request.
func (api *API) BusinessCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	_, input, err := service.PrepareInput(body)
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}

	result, err := api.generator.Generate(r.Context(), input)
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
