//go:build integration

package integrationtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/directory"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/service"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/store"
)

// setupRouter starts a PostgreSQL container with the contacts table and returns the router of a
// service that is connected to it.
func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithInitScripts("../../scripts/postgres.sql"),
		postgres.WithDatabase("phonebook"),
		postgres.WithUsername("dirk"),
		postgres.WithPassword("bullo92"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connectRouter(t, store.DriverPostgres, dsn)
}

// setupMySQLRouter does the same as setupRouter with a MySQL container.
func setupMySQLRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithScripts("../../scripts/mysql.sql"),
		tcmysql.WithDatabase("phonebook"),
		tcmysql.WithUsername("dirk"),
		tcmysql.WithPassword("bullo92"),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate mysql container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return connectRouter(t, store.DriverMySQL, dsn)
}

func connectRouter(t *testing.T, driver string, dsn string) *gin.Engine {
	t.Helper()
	db, err := store.Open(context.Background(), driver, dsn, store.PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	gin.SetMode(gin.ReleaseMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	contactStore := store.NewSQLStore(db)
	contacts := directory.New(contactStore, logger)
	return service.New(contacts, contactStore, logger, nil).SetupHttpRouter(false)
}

// databases lists the router setups the database independent tests run against.
var databases = []struct {
	name  string
	setup func(t *testing.T) *gin.Engine
}{
	{"postgres", setupRouter},
	{"mysql", setupMySQLRouter},
}

func serve(router *gin.Engine, method string, url string, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest(method, url, strings.NewReader(body))
	router.ServeHTTP(recorder, request)
	return recorder
}

// TestContactHappyPath tests a POST, search, PUT, and DELETE with valid data.
func TestContactHappyPath(t *testing.T) {
	router := setupRouter(t)

	// test the endpoint for creating a contact
	postRecorder := serve(router, "POST", "/contacts/", `
		{
			"first_name": "Or",
			"last_name": "Badani",
			"phone_number": "0544605039",
			"address": "Nowhere"
		}
	`)
	assert.Equal(t, http.StatusOK, postRecorder.Code)
	var postBody map[string]interface{}
	json.Unmarshal(postRecorder.Body.Bytes(), &postBody)
	assert.Equal(t, "Or", postBody["first_name"])
	assert.Equal(t, "Badani", postBody["last_name"])
	assert.Equal(t, "0544605039", postBody["phone_number"])
	assert.Equal(t, "Nowhere", postBody["address"])
	id := postBody["id"]
	assert.NotZero(t, id)

	// test the endpoint for finding a contact
	searchRecorder := serve(router, "GET", "/contacts/search?phone_number=0544605039", "")
	assert.Equal(t, http.StatusOK, searchRecorder.Code)
	var searchBody []map[string]interface{}
	json.Unmarshal(searchRecorder.Body.Bytes(), &searchBody)
	require.Len(t, searchBody, 1)
	assert.Equal(t, postBody, searchBody[0])

	// test the endpoint for updating a contact
	putRecorder := serve(router, "PUT", "/contacts/0544605039", `
		{
			"first_name": "OrUpdated",
			"phone_number": "0544605040"
		}
	`)
	assert.Equal(t, http.StatusOK, putRecorder.Code)
	var putBody map[string]interface{}
	json.Unmarshal(putRecorder.Body.Bytes(), &putBody)
	assert.Equal(t, id, putBody["id"])
	assert.Equal(t, "OrUpdated", putBody["first_name"])
	assert.Equal(t, "Badani", putBody["last_name"])
	assert.Equal(t, "0544605040", putBody["phone_number"])
	assert.Equal(t, "Nowhere", putBody["address"])

	// the old phone number is gone
	assert.Equal(t, http.StatusNotFound, serve(router, "DELETE", "/contacts/0544605039", "").Code)

	// test the endpoint for deleting a contact
	deleteRecorder := serve(router, "DELETE", "/contacts/0544605040", "")
	assert.Equal(t, http.StatusOK, deleteRecorder.Code)
	assert.JSONEq(t, putRecorder.Body.String(), deleteRecorder.Body.String())

	searchRecorder = serve(router, "GET", "/contacts/search?phone_number=0544605040", "")
	assert.Equal(t, http.StatusOK, searchRecorder.Code)
	assert.JSONEq(t, "[]", searchRecorder.Body.String())
}

// TestDuplicates tests that phone numbers stay unique for creates and updates.
func TestDuplicates(t *testing.T) {
	router := setupRouter(t)

	for _, phone := range []string{"0544605039", "0525745672"} {
		recorder := serve(router, "POST", "/contacts/", fmt.Sprintf(`{"first_name": "Or", "last_name": "Badani", "phone_number": %q, "address": "Nowhere"}`, phone))
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder := serve(router, "POST", "/contacts/", `{"first_name": "Other", "last_name": "Person", "phone_number": "0544605039", "address": "Haifa"}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = serve(router, "PUT", "/contacts/0525745672", `{"phone_number": "0544605039"}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = serve(router, "GET", "/contacts/search?first_name=Or&last_name=Badani", "")
	var contacts []map[string]interface{}
	json.Unmarshal(recorder.Body.Bytes(), &contacts)
	assert.Len(t, contacts, 2)
}

// TestConcurrentCreates sends the same contact from many goroutines. Exactly one request may
// succeed, all others have to be rejected as duplicates.
func TestConcurrentCreates(t *testing.T) {
	router := setupRouter(t)

	const workers = 20
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = serve(router, "POST", "/contacts/", `{"first_name": "Or", "last_name": "Badani", "phone_number": "0544605039", "address": "Nowhere"}`).Code
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, code := range codes {
		if code == http.StatusOK {
			succeeded++
		} else {
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, succeeded)
}

// TestPaging creates a couple of contacts and walks through them page by page.
func TestPaging(t *testing.T) {
	router := setupRouter(t)

	const total = 23
	for i := range total {
		recorder := serve(router, "POST", "/contacts/", fmt.Sprintf(`{"first_name": "First", "last_name": "Last%d", "phone_number": "%d", "address": "Somewhere"}`, i, 1000+i))
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	seen := map[string]bool{}
	var lastID float64
	for offset := 0; ; offset += 10 {
		recorder := serve(router, "GET", fmt.Sprintf("/contacts/?offset=%d&limit=10", offset), "")
		require.Equal(t, http.StatusOK, recorder.Code)
		var page []map[string]interface{}
		json.Unmarshal(recorder.Body.Bytes(), &page)
		if len(page) == 0 {
			break
		}
		for _, contact := range page {
			phone := contact["phone_number"].(string)
			assert.False(t, seen[phone], "contact listed twice: "+phone)
			seen[phone] = true
			id := contact["id"].(float64)
			assert.Greater(t, id, lastID)
			lastID = id
		}
	}
	assert.Len(t, seen, total)
}

// TestExactSearch expects searches to match field values exactly. Values that only differ in
// case, accents or trailing spaces are different values.
func TestExactSearch(t *testing.T) {
	for _, database := range databases {
		t.Run(database.name, func(t *testing.T) {
			router := database.setup(t)

			recorder := serve(router, "POST", "/contacts/", `{"first_name": "Or", "last_name": "Badani", "phone_number": "0544605039", "address": "Nowhere"}`)
			require.Equal(t, http.StatusOK, recorder.Code)

			for _, query := range []string{
				"first_name=or",
				"first_name=OR",
				"first_name=%C3%93r",
				"first_name=Or%20",
				"last_name=badani",
				"address=nowhere",
				"address=N%C3%B6where",
			} {
				recorder = serve(router, "GET", "/contacts/search?"+query, "")
				assert.Equal(t, http.StatusOK, recorder.Code, query)
				assert.JSONEq(t, "[]", recorder.Body.String(), query)
			}

			recorder = serve(router, "GET", "/contacts/search?first_name=Or&address=Nowhere", "")
			assert.Equal(t, http.StatusOK, recorder.Code)
			var contacts []map[string]interface{}
			json.Unmarshal(recorder.Body.Bytes(), &contacts)
			assert.Len(t, contacts, 1)
		})
	}
}

// TestMySQLContactLifecycle runs create, update and delete against MySQL, which assigns ids
// without RETURNING.
func TestMySQLContactLifecycle(t *testing.T) {
	router := setupMySQLRouter(t)

	postRecorder := serve(router, "POST", "/contacts/", `{"first_name": "Or", "last_name": "Badani", "phone_number": "0544605039", "address": "Nowhere"}`)
	require.Equal(t, http.StatusOK, postRecorder.Code)
	var postBody map[string]interface{}
	json.Unmarshal(postRecorder.Body.Bytes(), &postBody)
	assert.NotZero(t, postBody["id"])

	recorder := serve(router, "POST", "/contacts/", `{"first_name": "Other", "last_name": "Person", "phone_number": "0544605039", "address": "Haifa"}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	putRecorder := serve(router, "PUT", "/contacts/0544605039", `{"address": "Tel Aviv"}`)
	require.Equal(t, http.StatusOK, putRecorder.Code)
	var putBody map[string]interface{}
	json.Unmarshal(putRecorder.Body.Bytes(), &putBody)
	assert.Equal(t, postBody["id"], putBody["id"])
	assert.Equal(t, "Tel Aviv", putBody["address"])

	deleteRecorder := serve(router, "DELETE", "/contacts/0544605039", "")
	assert.Equal(t, http.StatusOK, deleteRecorder.Code)
	assert.JSONEq(t, putRecorder.Body.String(), deleteRecorder.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(router, "DELETE", "/contacts/0544605039", "").Code)
}
