// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsights/services/insights/realtime"
)

// RealtimeStatus handles GET /v1/realtime/status.
func RealtimeStatus(channel *realtime.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            channel.Status(),
			"reconnectAttempts": channel.ReconnectAttempts(),
		})
	}
}

// RealtimeConnect handles POST /v1/realtime/connect. Used to recover the
// channel manually after its reconnect budget is exhausted.
func RealtimeConnect(channel *realtime.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := channel.Connect(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  err.Error(),
				"status": channel.Status(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": channel.Status()})
	}
}

// RealtimeDisconnect handles POST /v1/realtime/disconnect.
func RealtimeDisconnect(channel *realtime.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel.Disconnect()
		c.JSON(http.StatusOK, gin.H{"status": channel.Status()})
	}
}
