/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/config"
)

func secretKeyRouter(secretKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: secretKey},
	})

	router := gin.New()
	router.Use(SecretKeyAuthMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	return router
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	router := secretKeyRouter("test-secret")

	tests := []struct {
		name         string
		key          string
		expectedCode int
	}{
		{name: "Valid key", key: "test-secret", expectedCode: http.StatusOK},
		{name: "Invalid key", key: "wrong-secret", expectedCode: http.StatusUnauthorized},
		{name: "Missing key", key: "", expectedCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ping", nil)
			if tt.key != "" {
				req.Header.Set("X-Adpilot-Key", tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestRateLimitMiddlewareDisabledByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conf := &config.Configuration{}
	config.MockConfig(conf)

	router := gin.New()
	router.Use(RateLimitMiddleware(conf))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest("GET", "/ping", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
