// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package attribution extracts UTM marketing parameters from landing URLs.
//
// Parsing is purely local (no network). A malformed URL yields an empty
// Attribution rather than an error: attribution is best-effort metadata
// and must never fail an ingestion path.
package attribution

import (
	"net/url"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// ParseAttribution reads utm_source, utm_medium and utm_campaign from the
// query string of rawURL.
//
// # Inputs
//
//   - rawURL: The full landing page URL as reported by the client.
//
// # Outputs
//
//   - datatypes.Attribution: Zero value when the URL is malformed or
//     carries no UTM parameters.
func ParseAttribution(rawURL string) datatypes.Attribution {
	if rawURL == "" {
		return datatypes.Attribution{}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return datatypes.Attribution{}
	}
	query := parsed.Query()
	return datatypes.Attribution{
		UTMSource:   query.Get("utm_source"),
		UTMMedium:   query.Get("utm_medium"),
		UTMCampaign: query.Get("utm_campaign"),
	}
}
