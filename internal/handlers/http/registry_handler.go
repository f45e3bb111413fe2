package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/pkg/errors"
)

// RegistryHandler exposes the meeting registry over HTTP.
type RegistryHandler struct {
	registry ports.RegistryService
}

func NewRegistryHandler(registry ports.RegistryService) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

func (h *RegistryHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/meeting", h.StartMeeting)
	router.POST("/meeting", h.CreateMeeting)
	router.POST("/attendee", h.AddAttendee)
	router.GET("/join/:identifier", h.Join)
	router.GET("/status/:identifier", h.Status)
	router.GET("/meetings", h.ListMeetings)

	router.GET("/host/:meetingId", h.GetHost)
	router.POST("/assign-host/:meetingId", h.AssignHost)
	router.GET("/collaborators/:meetingId", h.GetCollaborators)
	router.POST("/collaborators/:meetingId", h.SetCollaborators)

	router.GET("/meeting-details/:meetingId", h.GetMeetingDetails)
	router.POST("/meeting-details/:meetingId", h.SaveMeetingDetails)
	router.GET("/profile/:meetingId", h.GetProfiles)
	router.POST("/profile/:meetingId", h.SaveProfile)

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

type CreateMeetingRequest struct {
	Room              string `json:"room"`
	MediaRegion       string `json:"mediaRegion"`
	ExternalMeetingID string `json:"externalMeetingId"`
	MaxAttendees      int    `json:"maxAttendees"`
}

type AddAttendeeRequest struct {
	MeetingID      domain.MeetingID `json:"meetingId"`
	ExternalUserID string           `json:"externalUserId"`
}

type AssignHostRequest struct {
	CurrentHostID domain.AttendeeID `json:"currentHostId"`
	NewHostID     domain.AttendeeID `json:"newHostId"`
}

type SetCollaboratorsRequest struct {
	CurrentHostID   domain.AttendeeID `json:"currentHostId"`
	CollaboratorIDs []string          `json:"collaboratorIds"`
}

func (h *RegistryHandler) CreateMeeting(c *gin.Context) {
	var req CreateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	rec, err := h.registry.CreateMeeting(c.Request.Context(), ports.CreateMeetingRequest{
		Room:              strings.TrimSpace(req.Room),
		MediaRegion:       req.MediaRegion,
		ExternalMeetingID: req.ExternalMeetingID,
		MaxAttendees:      req.MaxAttendees,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"Meeting":   rec.Meeting,
		"meetingId": rec.Meeting.MeetingID,
		"room":      rec.Meeting.Room,
	})
}

// StartMeeting gets or creates the room's meeting and makes the caller its
// host.
func (h *RegistryHandler) StartMeeting(c *gin.Context) {
	room := strings.TrimSpace(c.Query("room"))
	maxAttendees := 0
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(errors.NewInvalidInputError("max must be a number"))
			return
		}
		maxAttendees = n
	}

	res, err := h.registry.StartMeeting(c.Request.Context(), room, maxAttendees)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":          res.JoinURL,
		"meetingId":    res.Record.Meeting.MeetingID,
		"room":         res.Record.Meeting.Room,
		"maxAttendees": res.Record.Settings.MaxAttendees,
		"attendeeId":   res.Info.Attendee.AttendeeID,
		"meetingInfo":  res.Encoded,
	})
}

func (h *RegistryHandler) AddAttendee(c *gin.Context) {
	var req AddAttendeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.MeetingID == "" {
		c.Error(errors.NewInvalidInputError("meetingId is required"))
		return
	}

	rec, creds, err := h.registry.AddAttendee(c.Request.Context(), req.MeetingID, req.ExternalUserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"Attendee":  creds,
		"meetingId": rec.Meeting.MeetingID,
		"room":      rec.Meeting.Room,
	})
}

func (h *RegistryHandler) Join(c *gin.Context) {
	res, err := h.registry.Join(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":              res.JoinURL,
		"meetingId":        res.Record.Meeting.MeetingID,
		"room":             res.Record.Meeting.Room,
		"isGroupCall":      res.Record.Settings.IsGroupCall,
		"currentAttendees": res.Record.Settings.CurrentAttendees,
		"maxAttendees":     res.Record.Settings.MaxAttendees,
		"attendeeId":       res.Info.Attendee.AttendeeID,
		"meetingInfo":      res.Encoded,
	})
}

func (h *RegistryHandler) Status(c *gin.Context) {
	rec, err := h.registry.Status(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, meetingStatus(rec))
}

func (h *RegistryHandler) ListMeetings(c *gin.Context) {
	recs, err := h.registry.ListMeetings(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	meetings := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		meetings = append(meetings, meetingStatus(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"meetings": meetings,
		"count":    len(meetings),
	})
}

func (h *RegistryHandler) GetHost(c *gin.Context) {
	id := domain.MeetingID(c.Param("meetingId"))
	host, err := h.registry.GetHost(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meetingId": id,
		"hostId":    host,
	})
}

func (h *RegistryHandler) AssignHost(c *gin.Context) {
	id := domain.MeetingID(c.Param("meetingId"))
	var req AssignHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := h.registry.AssignHost(c.Request.Context(), id, req.CurrentHostID, req.NewHostID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"meetingId":    id,
		"previousHost": req.CurrentHostID,
		"newHost":      req.NewHostID,
	})
}

func (h *RegistryHandler) GetCollaborators(c *gin.Context) {
	id := domain.MeetingID(c.Param("meetingId"))
	ids, err := h.registry.GetCollaborators(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meetingId":     id,
		"collaborators": ids,
	})
}

func (h *RegistryHandler) SetCollaborators(c *gin.Context) {
	id := domain.MeetingID(c.Param("meetingId"))
	var req SetCollaboratorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("collaboratorIds must be an array"))
		return
	}
	if req.CollaboratorIDs == nil {
		c.Error(errors.NewInvalidInputError("collaboratorIds must be an array"))
		return
	}

	ids, err := h.registry.SetCollaborators(c.Request.Context(), id, req.CurrentHostID, req.CollaboratorIDs)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"collaborators": ids,
	})
}

func (h *RegistryHandler) GetMeetingDetails(c *gin.Context) {
	details, err := h.registry.GetDetails(c.Request.Context(), domain.MeetingID(c.Param("meetingId")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *RegistryHandler) SaveMeetingDetails(c *gin.Context) {
	var details domain.MeetingDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	id := domain.MeetingID(c.Param("meetingId"))
	if err := h.registry.SaveDetails(c.Request.Context(), id, details); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RegistryHandler) GetProfiles(c *gin.Context) {
	profiles, err := h.registry.GetProfiles(c.Request.Context(), domain.MeetingID(c.Param("meetingId")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (h *RegistryHandler) SaveProfile(c *gin.Context) {
	var profile domain.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	id := domain.MeetingID(c.Param("meetingId"))
	if err := h.registry.SaveProfile(c.Request.Context(), id, profile); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RegistryHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *RegistryHandler) Ready(c *gin.Context) {
	if err := h.registry.HealthCheck(c.Request.Context()); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "registry storage unavailable", http.StatusServiceUnavailable))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func meetingStatus(rec *domain.MeetingRecord) gin.H {
	return gin.H{
		"meetingId":        rec.Meeting.MeetingID,
		"room":             rec.Meeting.Room,
		"mediaRegion":      rec.Meeting.MediaRegion,
		"isGroupCall":      rec.Settings.IsGroupCall,
		"currentAttendees": rec.Settings.CurrentAttendees,
		"maxAttendees":     rec.Settings.MaxAttendees,
		"createdAt":        rec.Meeting.CreatedAt,
	}
}
