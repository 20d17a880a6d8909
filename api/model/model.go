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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/adpilot-io/adpilot/model"
)

func validMode(value interface{}) error {
	mode, _ := value.(string)
	if mode == "" || mode == string(model.ModePipeline) || mode == string(model.ModeDirect) {
		return nil
	}
	return errors.New("mode must be either pipeline or direct")
}

func (r *RegisterAd) ValidateRegisterAd() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Mode, validation.By(validMode)),
	)
}

func (r *RecordAttribution) ValidateRecordAttribution() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EventID, validation.Required),
		validation.Field(&r.AdID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.AttributedValue, validation.By(func(value interface{}) error {
			if r.AttributedValue.IsNegative() {
				return errors.New("attributed_value cannot be negative")
			}
			return nil
		})),
	)
}

func (r *IngestMetricSync) ValidateIngestMetricSync() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AdID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Impressions, validation.Min(int64(0))),
		validation.Field(&r.Clicks, validation.Min(int64(0))),
		validation.Field(&r.CPM, validation.Min(0.0)),
		validation.Field(&r.Frequency, validation.Min(0.0)),
		validation.Field(&r.Spend, validation.By(func(value interface{}) error {
			if r.Spend.IsNegative() {
				return errors.New("spend cannot be negative")
			}
			return nil
		})),
	)
}

func (r *RecoverClaims) ValidateRecoverClaims() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ThresholdSeconds, validation.Min(60)),
	)
}
