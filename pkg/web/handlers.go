// Package web provides the HTTP handlers for the workflow transition and
// SLA endpoints.
package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/services"
)

// ActorHeader carries the authenticated actor identity. Authentication
// itself happens upstream; the engine only resolves the actor's verified
// roles per laboratory and fails closed when there is no grant.
const ActorHeader = "X-Actor"

type APIHandlers struct {
	transitioner *services.Transitioner
	bulk         *services.BulkTransitioner
	reader       *services.WorkflowReader
	sla          *services.SLAService
	roles        services.RoleResolver
	persistence  persistence.Persistence
	validator    *validator.Validate
}

func NewAPIHandlers(
	transitioner *services.Transitioner,
	bulk *services.BulkTransitioner,
	reader *services.WorkflowReader,
	slaService *services.SLAService,
	roles services.RoleResolver,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		transitioner: transitioner,
		bulk:         bulk,
		reader:       reader,
		sla:          slaService,
		roles:        roles,
		persistence:  p,
		validator:    validator,
	}
}

func parseKind(c fiber.Ctx) (models.Kind, bool) {
	kind := models.Kind(c.Params("kind"))

	return kind, kind.Valid()
}

// actorWithRoles reads the actor identity header and resolves the actor's
// role set within laboratoryID.
func (h *APIHandlers) actorWithRoles(c fiber.Ctx, laboratoryID string) (string, []models.Role, error) {
	actor := strings.TrimSpace(c.Get(ActorHeader))
	if actor == "" {
		return "", nil, nil
	}

	roles, err := h.roles.RolesFor(c.Context(), actor, laboratoryID)
	if err != nil {
		return actor, nil, err
	}

	return actor, roles, nil
}

func (h *APIHandlers) Transition(c fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return badRequest(c, "Unknown entity kind")
	}

	objectID := c.Params("id")
	if objectID == "" {
		return badRequest(c, "Object ID is required")
	}

	var req TransitionRequestBody
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	entity, err := h.reader.Get(c.Context(), kind, objectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	actor, roles, err := h.actorWithRoles(c, entity.LaboratoryID)
	if err != nil {
		return internalError(c, err)
	}

	if actor == "" {
		return badRequest(c, "X-Actor header is required")
	}

	result, err := h.transitioner.Execute(c.Context(), services.TransitionRequest{
		Kind:         kind,
		ObjectID:     objectID,
		TargetStatus: req.TargetStatus,
		Actor:        actor,
		ActorRoles:   roles,
		Comment:      req.Comment,
		Force:        req.Force,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) BulkTransition(c fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return badRequest(c, "Unknown entity kind")
	}

	var req BulkTransitionRequestBody
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	actor, roles, err := h.actorWithRoles(c, req.LaboratoryID)
	if err != nil {
		return internalError(c, err)
	}

	if actor == "" {
		return badRequest(c, "X-Actor header is required")
	}

	result, err := h.bulk.ExecuteBulk(c.Context(), services.BulkRequest{
		Kind:         kind,
		ObjectIDs:    req.ObjectIDs,
		TargetStatus: req.TargetStatus,
		Actor:        actor,
		ActorRoles:   roles,
		Comment:      req.Comment,
		LaboratoryID: req.LaboratoryID,
	})
	if err != nil {
		return internalError(c, err)
	}

	// Per-item failures are data, not errors: the batch always answers 200.
	return c.JSON(result)
}

func (h *APIHandlers) NextStates(c fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return badRequest(c, "Unknown entity kind")
	}

	objectID := c.Params("id")
	if objectID == "" {
		return badRequest(c, "Object ID is required")
	}

	entity, err := h.reader.Get(c.Context(), kind, objectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	actor, roles, err := h.actorWithRoles(c, entity.LaboratoryID)
	if err != nil {
		return internalError(c, err)
	}

	if actor == "" {
		return badRequest(c, "X-Actor header is required")
	}

	next, err := h.reader.AllowedNextStates(c.Context(), kind, objectID, roles)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NextStatesResponse{
		Kind:          string(kind),
		ObjectID:      objectID,
		CurrentStatus: entity.Status,
		NextStates:    next,
	})
}

func (h *APIHandlers) History(c fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return badRequest(c, "Unknown entity kind")
	}

	objectID := c.Params("id")
	if objectID == "" {
		return badRequest(c, "Object ID is required")
	}

	records, err := h.reader.History(c.Context(), kind, objectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"kind":      kind,
		"object_id": objectID,
		"records":   records,
	})
}

func (h *APIHandlers) SLAStatus(c fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return badRequest(c, "Unknown entity kind")
	}

	objectID := c.Params("id")
	if objectID == "" {
		return badRequest(c, "Object ID is required")
	}

	payload, err := h.sla.Status(c.Context(), kind, objectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(payload)
}

func (h *APIHandlers) SLADashboard(c fiber.Ctx) error {
	dashboard, err := h.sla.Dashboard(c.Context(), c.Query("laboratory_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"laboratory_id": c.Query("laboratory_id"),
		"kinds":         dashboard,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "LabFlow API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "LabFlow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
