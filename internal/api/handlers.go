package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/booking"
	"github.com/kokosante/booking-backend/internal/gateway"
	redisclient "github.com/kokosante/booking-backend/internal/redis"
	"github.com/kokosante/booking-backend/internal/video"
)

var validate = validator.New()

func decodeAndValidate(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func appointmentResponse(appt *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          appt.ID,
		DoctorID:    appt.DoctorID,
		PatientID:   appt.PatientID,
		Date:        appt.Date.Format("2006-01-02"),
		Time:        appt.Time,
		Status:      string(appt.Status),
		FirstVisit:  appt.FirstVisit,
		ConfirmedAt: appt.ConfirmedAt,
		CancelledAt: appt.CancelledAt,
	}
}

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		patientID, _ := uuid.Parse(req.PatientID)
		date, _ := time.Parse("2006-01-02", req.Date)

		appt, err := svc.CreateAppointment(r.Context(), booking.Appointment{
			DoctorID:   doctorID,
			PatientID:  patientID,
			Date:       date,
			Time:       req.Time,
			FirstVisit: req.FirstVisit,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func appointmentQueueHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		pos, err := svc.QueuePositionForAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, QueuePositionResponse{
			Position:             pos.Position,
			TotalInQueue:         pos.TotalInQueue,
			EstimatedWaitMinutes: pos.EstimatedWaitMinutes,
		})
	}
}

func doctorQueueHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		targetTime := r.URL.Query().Get("time")
		if _, err := time.Parse("15:04", targetTime); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		pos, err := svc.EstimateQueuePosition(r.Context(), doctorID, date, targetTime)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, QueuePositionResponse{
			Position:             pos.Position,
			TotalInQueue:         pos.TotalInQueue,
			EstimatedWaitMinutes: pos.EstimatedWaitMinutes,
		})
	}
}

func initPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitPaymentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appointmentID, _ := uuid.Parse(req.AppointmentID)
		patientID, _ := uuid.Parse(req.PatientID)

		res, err := svc.InitPayment(r.Context(), booking.InitPaymentInput{
			Amount:        req.Amount,
			AppointmentID: appointmentID,
			PatientID:     patientID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			Type:          booking.PaymentType(req.PaymentType),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, InitPaymentResponse{
			Success:    true,
			PaymentID:  res.PaymentID,
			PaymentURL: res.PaymentURL,
		})
	}
}

func initTeleconsultHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitTeleconsultRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		patientID, _ := uuid.Parse(req.PatientID)

		res, err := svc.InitTeleconsultation(r.Context(), booking.InitTeleconsultInput{
			DoctorID:        doctorID,
			PatientID:       patientID,
			DurationMinutes: req.Duration,
			Amount:          req.Amount,
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, InitTeleconsultResponse{
			Success:     true,
			SessionID:   res.SessionID,
			IsFree:      res.IsFree,
			AccessCode:  res.AccessCode,
			ChannelName: res.ChannelName,
			PaymentURL:  res.PaymentURL,
		})
	}
}

func verifyCodeHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyCodeRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		grant, err := svc.VerifyAccessCode(r.Context(), req.Code)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrCodeInvalid),
				errors.Is(err, booking.ErrPaymentNotConfirmed):
				writeJSON(w, http.StatusOK, VerifyCodeResponse{
					Valid:   false,
					Message: err.Error(),
				})
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, VerifyCodeResponse{
			Valid: true,
			SessionData: &SessionData{
				ChannelName: grant.ChannelName,
				DoctorID:    grant.DoctorID,
				Duration:    grant.DurationMinutes,
			},
		})
	}
}

func videoTokenHandler(issuer *video.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VideoTokenRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		token, err := issuer.Issue(req.Channel, req.Role)
		if err != nil {
			if errors.Is(err, video.ErrNotConfigured) {
				writeError(w, http.StatusServiceUnavailable, "configuration_error", "video tokens are not configured")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, token)
	}
}

func paymentWebhookHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cb gateway.Callback
		if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
			writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "invalid_body"})
			return
		}

		if _, err := svc.HandleGatewayCallback(r.Context(), cb); err != nil {
			switch {
			case errors.Is(err, booking.ErrPaymentNotFound):
				writeJSON(w, http.StatusNotFound, WebhookResponse{Success: false, Error: "payment_not_found"})
			default:
				writeJSON(w, http.StatusInternalServerError, WebhookResponse{Success: false, Error: "internal_error"})
			}
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Success: true})
	}
}

func listNotificationsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
			return
		}

		list, err := svc.ListNotifications(r.Context(), userID, 50)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func markNotificationReadHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_notification_id", "id must be a valid UUID")
			return
		}

		if err := svc.MarkNotificationRead(r.Context(), id, userID); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func markAllNotificationsReadHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
			return
		}

		if err := svc.MarkAllNotificationsRead(r.Context(), userID); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// userIDFrom reads the caller identity. Session auth lives in the edge
// proxy; by the time a request lands here the header is trusted.
func userIDFrom(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotActive):
		writeError(w, http.StatusConflict, "appointment_not_active", err.Error())
	case errors.Is(err, booking.ErrPaymentInFlight):
		writeError(w, http.StatusConflict, "payment_in_flight", "a payment is already in progress for this appointment")
	case errors.Is(err, booking.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "payment_in_flight", "a payment is being initialized for this appointment, please retry shortly")
	case errors.Is(err, gateway.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "configuration_error", "payment gateway is not configured")
	case errors.Is(err, gateway.ErrGateway):
		writeError(w, http.StatusBadGateway, "gateway_error", "payment gateway request failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
