package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/rrule"
	"go.uber.org/zap"
)

// writeError maps engine errors to HTTP statuses.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidFrequencyConfig):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrSchedulingPersistence):
		status = fiber.StatusServiceUnavailable
	}
	if status == fiber.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) describe(med *models.Medication) medicationResponse {
	loc := s.engine.Location()
	return medicationResponse{
		Medication: med,
		Schedule:   rrule.Describe(med, loc),
		RRules:     rrule.Rules(med, loc),
		Alarms:     s.engine.Alarms(med.ID),
	}
}

func (s *Server) respondMedication(c *fiber.Ctx, status int, med *models.Medication, schedErr error) error {
	resp := s.describe(med)
	if schedErr != nil {
		resp.Warning = schedErr.Error()
	}
	return c.Status(status).JSON(resp)
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.engine.Medications(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	out := make([]medicationResponse, 0, len(meds))
	for _, med := range meds {
		if c.QueryBool("active") && !med.Active {
			continue
		}
		out = append(out, s.describe(med))
	}
	return c.JSON(out)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.engine.Medication(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return s.respondMedication(c, fiber.StatusOK, med, nil)
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	return s.saveMedication(c, "", fiber.StatusCreated)
}

func (s *Server) handleUpdateMedication(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.engine.Medication(c.UserContext(), id); err != nil {
		return s.writeError(c, err)
	}
	return s.saveMedication(c, id, fiber.StatusOK)
}

func (s *Server) saveMedication(c *fiber.Ctx, id string, status int) error {
	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	med, err := req.toModel(id)
	if err != nil {
		return s.writeError(c, err)
	}

	saved, err := s.engine.SaveMedication(c.UserContext(), med)
	if saved == nil {
		return s.writeError(c, err)
	}
	return s.respondMedication(c, status, saved, err)
}

func (s *Server) handleDeleteMedication(c *fiber.Ctx) error {
	if err := s.engine.DeleteMedication(c.UserContext(), c.Params("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSetActive(active bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		med, err := s.engine.SetActive(c.UserContext(), c.Params("id"), active)
		if med == nil {
			return s.writeError(c, err)
		}
		return s.respondMedication(c, fiber.StatusOK, med, err)
	}
}

func (s *Server) handleMedicationAlarms(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.engine.Medication(c.UserContext(), id); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(s.engine.Alarms(id))
}

func (s *Server) handleReschedule(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.engine.Medication(c.UserContext(), id); err != nil {
		return s.writeError(c, err)
	}
	if err := s.engine.Reschedule(c.UserContext(), id); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(s.engine.Alarms(id))
}

// handleOccurrences lists doses in a range, or the next n with ?next=n.
func (s *Server) handleOccurrences(c *fiber.Ctx) error {
	if n := c.QueryInt("next"); n > 0 {
		if n > 100 {
			n = 100
		}
		occs, err := s.engine.NextOccurrences(c.UserContext(), c.Params("id"), n)
		if err != nil {
			return s.writeError(c, err)
		}
		if occs == nil {
			occs = []models.Occurrence{}
		}
		return c.JSON(occs)
	}

	loc := s.engine.Location()
	now := s.engine.Now()
	start, end, err := parseRange(c.Query("from"), c.Query("to"), loc, now, now.AddDate(0, 0, 7))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	occs, err := s.engine.Occurrences(c.UserContext(), c.Params("id"), start, end)
	if err != nil {
		return s.writeError(c, err)
	}
	if occs == nil {
		occs = []models.Occurrence{}
	}
	return c.JSON(occs)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	loc := s.engine.Location()
	now := s.engine.Now()
	start, end, err := parseRange(c.Query("from"), c.Query("to"), loc, now.AddDate(0, 0, -30), now.Add(time.Minute))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	recs, err := s.engine.History(c.UserContext(), c.Params("id"), start, end)
	if err != nil {
		return s.writeError(c, err)
	}
	if recs == nil {
		recs = []*models.AckRecord{}
	}
	return c.JSON(recs)
}

func (s *Server) handleAdherence(c *fiber.Ctx) error {
	loc := s.engine.Location()
	now := s.engine.Now()
	start, end, err := parseRange(c.Query("from"), c.Query("to"), loc, startOfDay(now, loc).AddDate(0, 0, -29), startOfDay(now, loc).AddDate(0, 0, 1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	a, err := s.engine.Adherence(c.UserContext(), c.Params("id"), start, end)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(a)
}

func (s *Server) handleAck(c *fiber.Ctx) error {
	var req ackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	slot, err := models.ParseTimeSlot(req.Slot)
	if err != nil {
		return s.writeError(c, err)
	}
	if req.OccurrenceAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "occurrence_at is required"})
	}

	ctx := c.UserContext()
	id := c.Params("id")
	switch req.Action {
	case "taken":
		rec, err := s.engine.Taken(ctx, id, slot, req.OccurrenceAt)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(rec)
	case "dismiss":
		rec, err := s.engine.Dismiss(ctx, id, slot, req.OccurrenceAt)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(rec)
	case "snooze":
		alarm, err := s.engine.Snooze(ctx, id, slot, req.OccurrenceAt, time.Duration(req.Minutes)*time.Minute)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(fiber.Map{"state": models.AckSnoozed, "alarm": alarm})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "action must be taken, snooze or dismiss"})
	}
}

func (s *Server) handleUpcoming(c *fiber.Ctx) error {
	up, err := s.engine.Upcoming(c.UserContext(), c.QueryInt("limit", 20))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(up)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	loc := s.engine.Location()
	now := s.engine.Now()
	start, end, err := parseRange(c.Query("from"), c.Query("to"), loc, startOfDay(now, loc).AddDate(0, 0, -6), startOfDay(now, loc).AddDate(0, 0, 1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	var counts models.Counts
	if id := c.Query("medication_id"); id != "" {
		counts, err = s.engine.MedicationStats(c.UserContext(), id, start, end)
	} else {
		counts, err = s.engine.Stats(c.UserContext(), start, end)
	}
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"from": start, "to": end, "counts": counts, "total": counts.Total()})
}

func (s *Server) handleSummary(c *fiber.Ctx) error {
	day := s.engine.Now()
	if raw := c.Query("date"); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, s.engine.Location())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "date must be YYYY-MM-DD"})
		}
		day = d
	}
	summary, err := s.engine.DailySummary(c.UserContext(), day)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(summary)
}
