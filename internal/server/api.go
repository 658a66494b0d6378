package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/paath/internal/observe"
)

// compareRequest accepts the current field names and the older
// "recitedText" spelling.
type compareRequest struct {
	RecognizedText string `json:"recognizedText"`
	RecitedText    string `json:"recitedText"`
	ReferenceText  string `json:"referenceText"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleReferenceText(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.refs.Get().Body)
}

// handleCompare always uses the in-process aligner. It is the endpoint the
// remote comparer calls, so routing it through the comparer chain could
// loop back to this server.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req compareRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Message: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	recognized := req.RecognizedText
	if recognized == "" {
		recognized = req.RecitedText
	}
	if strings.TrimSpace(recognized) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Recognized text is required"})
		return
	}
	ref := req.ReferenceText
	if strings.TrimSpace(ref) == "" {
		ref = s.refs.Get().Body
	}

	start := time.Now()
	res := s.aligner.Load().Align(recognized, ref)
	s.metrics.AlignmentDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("source", "http")))
	s.metrics.RecordComparerRequest(ctx, "local", "ok")

	log.Debug("comparison served",
		"recognized_words", len(res.Words),
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
	)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
