package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"inventory-forecast/internal/auth"
	"inventory-forecast/internal/common"
	"inventory-forecast/internal/features"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/retrain"
	"inventory-forecast/internal/storage"
)

// Response messages
const (
	msgOperational      = "IA operativa"
	msgRetrainQueued    = "Reentrenamiento en cola."
	msgRetrainForbidden = "Solo admin puede reentrenar el modelo."
	msgReloadForbidden  = "Solo admin puede recargar el modelo."
	msgModelUnavailable = "Modelo no disponible"
	msgQueueUnavailable = "No se pudo encolar el reentrenamiento."
	msgBodyTooLarge     = "Cuerpo de la solicitud demasiado grande"
)

// Store event kinds
const (
	eventKindRetrain = "retrain_request"
	eventKindReload  = "model_reload"
)

// RecommendationResponse is the body of a successful recommendation.
type RecommendationResponse struct {
	Timestamp     string             `json:"timestamp"`
	ModelVersion  string             `json:"model_version"`
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type retrainRequest struct {
	Reason string `json:"reason"`
}

func claimsOf(r *http.Request) *auth.Claims {
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c
	}
	return &auth.Claims{}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Loads lazily so a fresh process reports whether serving is possible.
	_, err := s.deps.Holder.Get()
	status := s.deps.Holder.Health()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": msgOperational,
		"user":    claimsOf(r).Username,
	})
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if verrs := s.recommendation.validate(body); verrs != nil {
		writeDetail(w, http.StatusUnprocessableEntity, verrs)
		return
	}

	var raw features.RawInput
	if err := json.Unmarshal(body, &raw); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, []ValidationError{{Loc: "body", Msg: err.Error(), Type: "json_invalid"}})
		return
	}

	rec, err := s.deps.Predictor.Recommend(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ml.ErrModelNotLoaded) {
			log.Error().Err(err).Msg("Recommendation requested without a loadable model")
			writeDetail(w, http.StatusServiceUnavailable, msgModelUnavailable)
			return
		}
		log.Error().Err(err).Msg("Recommendation failed")
		writeDetail(w, http.StatusInternalServerError, "Error interno al generar la recomendación")
		return
	}

	now := time.Now().UTC()
	claims := claimsOf(r)
	requestID := uuid.NewString()

	s.deps.Audit.Recommendation(logging.RecommendationEntry{
		RequestID:    requestID,
		User:         claims.Username,
		ModelVersion: rec.ModelVersion,
		Prediction:   rec.Label,
		Confidence:   rec.Confidence,
		Defaulted:    rec.Report.Defaulted,
		Unmapped:     rec.Report.Unmapped,
	})

	if s.deps.Store != nil {
		err := s.deps.Store.StorePrediction(storage.PredictionRecord{
			ID:            requestID,
			Timestamp:     now,
			User:          claims.Username,
			ModelVersion:  rec.ModelVersion,
			Prediction:    rec.Label,
			Confidence:    rec.Confidence,
			Probabilities: rec.Probabilities,
			Features:      rec.Features,
			Defaulted:     rec.Report.Defaulted,
			Unmapped:      rec.Report.Unmapped,
		})
		if err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to persist prediction")
		}
	}

	resp := RecommendationResponse{
		Timestamp:     now.Format("2006-01-02T15:04:05.000000"),
		ModelVersion:  rec.ModelVersion,
		Prediction:    rec.Label,
		Confidence:    rec.Confidence,
		Probabilities: rec.Probabilities,
	}

	s.deps.Events.Publish(Event{
		Type:      EventRecommendation,
		Timestamp: now,
		Data: map[string]any{
			"request_id":    requestID,
			"user":          claims.Username,
			"model_version": rec.ModelVersion,
			"prediction":    rec.Label,
			"confidence":    rec.Confidence,
			"defaulted":     rec.Report.Defaulted,
		},
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	claims := claimsOf(r)
	if !claims.HasRole(common.RoleAdmin) {
		s.retrainOutcome(retrain.OutcomeRejected)
		writeDetail(w, http.StatusForbidden, msgRetrainForbidden)
		return
	}

	var req retrainRequest
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(body) > 0 {
		if verrs := s.retrain.validate(body); verrs != nil {
			writeDetail(w, http.StatusUnprocessableEntity, verrs)
			return
		}
		_ = json.Unmarshal(body, &req)
	}

	job := retrain.Job{RequestedBy: claims.Username, Reason: req.Reason}
	queued := false
	if s.deps.Queue != nil {
		var err error
		job, err = s.deps.Queue.Enqueue(r.Context(), job)
		if err != nil {
			log.Error().Err(err).Str("user", claims.Username).Msg("Failed to enqueue retrain job")
			s.retrainOutcome(retrain.OutcomeFailed)
			writeDetail(w, http.StatusServiceUnavailable, msgQueueUnavailable)
			return
		}
		queued = true
		s.retrainOutcome(retrain.OutcomeQueued)
	} else {
		job.ID = uuid.NewString()
		job.RequestedAt = time.Now().UTC()
		s.retrainOutcome(retrain.OutcomeLogged)
	}

	log.Info().Str("user", claims.Username).Str("job_id", job.ID).Bool("queued", queued).
		Msg("Reentrenamiento solicitado")
	s.deps.Audit.RetrainRequested(claims.Username, job.ID, queued)
	s.storeEvent(storage.ModelEvent{
		ID:      job.ID,
		Kind:    eventKindRetrain,
		User:    claims.Username,
		Success: true,
		Detail:  job.Reason,
	})
	s.deps.Events.Publish(Event{Type: EventRetrainQueued, Data: job})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": msgRetrainQueued,
		"job_id":  job.ID,
		"queued":  queued,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	claims := claimsOf(r)
	if !claims.HasRole(common.RoleAdmin) {
		writeDetail(w, http.StatusForbidden, msgReloadForbidden)
		return
	}

	bundle, err := s.deps.Holder.Reload()
	if bundle == nil {
		// failed reloads report the version still serving
		bundle = s.deps.Holder.Current()
	}
	version := ""
	if bundle != nil {
		version = bundle.Version()
	}
	s.deps.Audit.ModelReloaded(claims.Username, version, err)

	ev := storage.ModelEvent{
		ID:      uuid.NewString(),
		Kind:    eventKindReload,
		User:    claims.Username,
		Version: version,
		Success: err == nil,
	}
	if err != nil {
		ev.Detail = err.Error()
		s.storeEvent(ev)
		log.Error().Err(err).Str("user", claims.Username).Msg("Model reload failed")
		writeDetail(w, http.StatusInternalServerError, "No se pudo recargar el modelo: "+err.Error())
		return
	}
	s.storeEvent(ev)
	s.deps.Events.Publish(Event{Type: EventModelReloaded, Data: map[string]string{"model_version": version}})

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"model_version": version,
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.deps.Holder.Get()
	if err != nil {
		writeDetail(w, http.StatusServiceUnavailable, msgModelUnavailable)
		return
	}

	info := map[string]any{
		"model_version": bundle.Version(),
		"metadata":      bundle.Metadata,
		"features":      bundle.Spec.Names(),
		"loaded_at":     bundle.LoadedAt,
	}
	if bundle.Aliases != nil {
		info["aliases"] = bundle.Aliases.Entries()
		if legacy, ok := bundle.Aliases.Legacy(); ok {
			info["legacy_fragment_swap"] = legacy
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) retrainOutcome(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RetrainRequestInc(outcome)
	}
}

func (s *Server) storeEvent(ev storage.ModelEvent) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.StoreEvent(ev); err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("Failed to persist model event")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return nil, false
		}
		writeDetail(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return body, true
}
