package apiv1

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestRegisterHandlersRoutes(t *testing.T) {
	app := fiber.New()
	RegisterHandlers(app, NewAPIServer())

	want := map[string]bool{
		"GET /ping":              false,
		"POST /license/validate": false,
		"POST /license/free":     false,
		"GET /license/usage":     false,
		"GET /stats":             false,
		"GET /stats/daily":       false,
	}
	for _, route := range app.GetRoutes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, seen := range want {
		if !seen {
			t.Errorf("route %s is not registered", key)
		}
	}
}

func TestGetPing(t *testing.T) {
	app := fiber.New()
	RegisterHandlers(app, NewAPIServer())

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "pong")
}
