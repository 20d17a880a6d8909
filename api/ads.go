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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adpilot-io/adpilot"
	model2 "github.com/adpilot-io/adpilot/api/model"
	"github.com/adpilot-io/adpilot/internal/apierror"
)

func (a Api) RegisterAd(c *gin.Context) {
	var newAd model2.RegisterAd
	if err := c.ShouldBindJSON(&newAd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newAd.ValidateRegisterAd()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.adpilot.RegisterAd(c.Request.Context(), newAd.ToAdState())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAd(c *gin.Context) {
	tenantID, adID, ok := tenantAdParams(c)
	if !ok {
		return
	}

	resp, err := a.adpilot.GetAd(c.Request.Context(), tenantID, adID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAdScore(c *gin.Context) {
	tenantID, adID, ok := tenantAdParams(c)
	if !ok {
		return
	}

	score, fatigue, err := a.adpilot.GetAdScore(c.Request.Context(), tenantID, adID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"score": score, "fatigue": fatigue})
}

func (a Api) generateMockAd(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		tenantID = "tenant_sandbox"
	}
	c.JSON(http.StatusOK, adpilot.GenerateMockAdState(tenantID))
}

func tenantAdParams(c *gin.Context) (string, string, bool) {
	tenantID, passed := c.Params.Get("tenant_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required. pass it in the route /:tenant_id/:ad_id"})
		return "", "", false
	}
	adID, passed := c.Params.Get("ad_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ad_id is required. pass it in the route /:tenant_id/:ad_id"})
		return "", "", false
	}
	return tenantID, adID, true
}
