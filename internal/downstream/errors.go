package downstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dtm-labs/client/dtmcli"
)

// RemoteError é a resposta de erro de um serviço downstream.
//
// 4xx (incluindo 409) e respostas 2xx cujo corpo é o resultado FAILURE do DTM
// seguem o protocolo de branch do DTM: a operação falhou de forma definitiva e
// não deve ser repetida. 5xx são sempre transitórios, qualquer que seja o corpo.
type RemoteError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, strings.TrimSpace(e.Body))
}

// Retryable indica se a chamada pode ser repetida
func (e *RemoteError) Retryable() bool {
	if e.failure() {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// Unwrap expõe dtmcli.ErrFailure para falhas definitivas
func (e *RemoteError) Unwrap() error {
	if e.failure() {
		return dtmcli.ErrFailure
	}
	return nil
}

func (e *RemoteError) failure() bool {
	if e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError {
		return true
	}
	return isSuccessStatus(e.StatusCode) && isFailureBody([]byte(e.Body))
}

func isSuccessStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// isFailureBody reconhece o resultado FAILURE do DTM: o corpo inteiro
// (texto puro ou string JSON) ou o campo dtm_result de um objeto JSON.
func isFailureBody(body []byte) bool {
	body = bytes.TrimSpace(body)
	if string(body) == dtmcli.ResultFailure {
		return true
	}

	var result string
	if err := json.Unmarshal(body, &result); err == nil {
		return result == dtmcli.ResultFailure
	}

	var payload struct {
		Result string `json:"dtm_result"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		return payload.Result == dtmcli.ResultFailure
	}
	return false
}
