package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/directory"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/model"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/platform/metrics"
)

// Defaults of the 'offset' and 'limit' URL parameters of the list endpoint.
const (
	defaultOffset = 0
	defaultLimit  = 10
)

// ContactDirectory is what the HTTP endpoints need from the contact directory.
type ContactDirectory interface {
	Create(ctx context.Context, candidate model.ContactCandidate) (model.Contact, error)
	Search(ctx context.Context, filter model.ContactFilter) ([]model.Contact, error)
	List(ctx context.Context, offset int, limit int) ([]model.Contact, error)
	Update(ctx context.Context, key string, patch model.ContactPatch) (model.Contact, error)
	Delete(ctx context.Context, key string) (model.Contact, error)
}

// HealthChecker reports whether the storage behind the directory is usable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Service holds the collaborators of the HTTP endpoints.
type Service struct {
	contacts ContactDirectory
	health   HealthChecker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates the service. metrics may be nil, in which case nothing is measured.
func New(contacts ContactDirectory, health HealthChecker, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{contacts: contacts, health: health, logger: logger, metrics: m}
}

var registerValidations sync.Once

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func (s *Service) SetupHttpRouter(requestLogging bool) *gin.Engine {
	registerValidations.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := v.RegisterValidation("phone", validPhone); err != nil {
				panic(err)
			}
		}
	})

	router := gin.New()
	router.Use(gin.Recovery(), requestID())
	if requestLogging {
		router.Use(requestLogger(s.logger))
	} else {
		s.logger.Info("turning off HTTP request logging")
	}
	if s.metrics != nil {
		router.Use(requestMetrics(s.metrics))
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	router.GET("/healthz", s.checkHealth)

	contacts := router.Group("/contacts")
	contacts.POST("/", s.createContact)
	contacts.GET("/", s.listContacts)
	contacts.GET("/search", s.searchContacts)
	contacts.PUT("/:phone_number", s.updateContact)
	contacts.DELETE("/:phone_number", s.deleteContact)
	return router
}

func validPhone(fl validator.FieldLevel) bool {
	return model.ValidPhoneNumber(fl.Field().String())
}

// createContact inserts the contact specified in the request's JSON. It responds with the contact
// as stored, including the newly assigned id. All four fields are mandatory.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/ --request "POST" --header "Content-Type: application/json" --data '{"first_name": "Or", "last_name": "Badani", "phone_number": "0544605039", "address": "Nowhere"}'
func (s *Service) createContact(c *gin.Context) {
	var candidate model.ContactCandidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		abortWithBindingError(c, err)
		return
	}
	contact, err := s.contacts.Create(c.Request.Context(), candidate)
	if err != nil {
		s.abortWithDirectoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contact)
}

// searchContacts responds with all contacts matching every given URL parameter exactly. The
// parameters are 'phone_number', 'first_name', 'last_name' and 'address'; at least one of them is
// required. No match results in an empty list.
//
// REST API calls:
//
//	> curl "http://localhost:8080/contacts/search?phone_number=0544605039"
//	> curl "http://localhost:8080/contacts/search?first_name=Or&last_name=Badani"
func (s *Service) searchContacts(c *gin.Context) {
	var filter model.ContactFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid search parameters"})
		return
	}
	if filter.IsEmpty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "at least one search criterion is required"})
		return
	}
	contacts, err := s.contacts.Search(c.Request.Context(), filter)
	if err != nil {
		s.abortWithDirectoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contacts)
}

// listContacts responds with one page of contacts ordered by id.
//
// The URL parameter 'limit' specifies how many contacts are returned, 10 if omitted. The URL
// parameter 'offset' specifies how many contacts are skipped in the beginning, 0 if omitted.
// Together they implement paging.
//
// REST API calls:
//
//	> curl "http://localhost:8080/contacts/"
//	> curl "http://localhost:8080/contacts/?limit=20&offset=60"
func (s *Service) listContacts(c *gin.Context) {
	offset, limit, success := parseOffsetAndLimit(c)
	if !success {
		return
	}
	contacts, err := s.contacts.List(c.Request.Context(), offset, limit)
	if err != nil {
		s.abortWithDirectoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contacts)
}

// parseOffsetAndLimit inspects the URL parameters and determines values for offset and limit of
// the result set.
func parseOffsetAndLimit(c *gin.Context) (offset int, limit int, success bool) {
	offset, limit = defaultOffset, defaultLimit
	var err error
	if value := c.Query("offset"); value != "" {
		offset, err = strconv.Atoi(value)
		if err != nil || offset < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid offset parameter"})
			return 0, 0, false
		}
	}
	if value := c.Query("limit"); value != "" {
		limit, err = strconv.Atoi(value)
		if err != nil || limit < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid limit parameter"})
			return 0, 0, false
		}
	}
	return offset, limit, true
}

// updateContact changes the values specified in the JSON (and only those) of the contact whose
// phone number matches the URL, then responds with the complete contact.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/contacts/0544605039 --request "PUT" --header "Content-Type: application/json" --data '{"first_name": "OrUpdated"}'
//	> curl http://localhost:8080/contacts/0544605039 --request "PUT" --header "Content-Type: application/json" --data '{"phone_number": "0544605040"}'
func (s *Service) updateContact(c *gin.Context) {
	var patch model.ContactPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortWithBindingError(c, err)
		return
	}

	// It only makes sense to continue if we have at least one value to update.
	if patch.IsEmpty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}

	contact, err := s.contacts.Update(c.Request.Context(), c.Param("phone_number"), patch)
	if err != nil {
		s.abortWithDirectoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contact)
}

// deleteContact deletes the contact whose phone number matches the URL and responds with it.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/0544605039 --request "DELETE"
func (s *Service) deleteContact(c *gin.Context) {
	contact, err := s.contacts.Delete(c.Request.Context(), c.Param("phone_number"))
	if err != nil {
		s.abortWithDirectoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contact)
}

// checkHealth responds with OK as long as the storage answers.
func (s *Service) checkHealth(c *gin.Context) {
	if err := s.health.Ping(c.Request.Context()); err != nil {
		s.logger.WarnContext(c.Request.Context(), "health check failed", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// abortWithBindingError answers request bodies that cannot be bound with UNPROCESSABLE ENTITY.
// BAD REQUEST stays reserved for duplicate phone numbers and empty patches.
func abortWithBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	var typeError *json.UnmarshalTypeError
	if errors.As(err, &validationErrors) || errors.As(err, &typeError) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"message": "invalid JSON"})
}

// abortWithDirectoryError translates the errors of the contact directory into responses.
func (s *Service) abortWithDirectoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
	case errors.Is(err, directory.ErrDuplicateKey):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, directory.ErrValidation):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
	default:
		s.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}
