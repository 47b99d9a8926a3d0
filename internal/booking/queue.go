package booking

import "time"

// AverageConsultationMinutes is the fixed per-patient estimate used for
// waiting-time projection.
const AverageConsultationMinutes = 20

// ComputeQueuePosition ranks a target slot among the active appointments
// of one doctor and date. An appointment is ahead when its time is
// strictly earlier, or equal with an earlier creation (FIFO among
// same-time bookings). targetCreatedAt may be zero when the target is not
// booked yet; same-time appointments then do not count as ahead.
//
// Times are "HH:MM" strings, so < compares chronologically.
func ComputeQueuePosition(active []Appointment, targetTime string, targetCreatedAt time.Time) QueuePosition {
	ahead := 0
	for _, appt := range active {
		if appt.Time < targetTime {
			ahead++
			continue
		}
		if appt.Time == targetTime && !targetCreatedAt.IsZero() && appt.CreatedAt.Before(targetCreatedAt) {
			ahead++
		}
	}

	wait := ahead * AverageConsultationMinutes
	if wait < 0 {
		wait = 0
	}

	return QueuePosition{
		Position:             ahead + 1,
		TotalInQueue:         len(active),
		EstimatedWaitMinutes: wait,
	}
}
