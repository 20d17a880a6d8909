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
package model

import (
	"github.com/adpilot-io/adpilot/model"
)

// RegisterAd is the request body for registering a new ad creative.
type RegisterAd struct {
	AdID         string                 `json:"ad_id"`
	TenantID     string                 `json:"tenant_id"`
	CampaignName string                 `json:"campaign_name"`
	Mode         string                 `json:"mode"`
	MetaData     map[string]interface{} `json:"meta_data"`
}

// ToAdState converts the request into the core ad state model.
func (r *RegisterAd) ToAdState() model.AdState {
	return model.AdState{
		AdID:         r.AdID,
		TenantID:     r.TenantID,
		CampaignName: r.CampaignName,
		Mode:         model.AdMode(r.Mode),
		MetaData:     r.MetaData,
	}
}
