/*
Copyright 2024 Blnk Finance Authors.

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

	"github.com/blnkfinance/courier"
	"github.com/blnkfinance/courier/api/middleware"
	"github.com/blnkfinance/courier/config"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	courier *courier.Courier
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/outbox", a.ListOutboxEntries)
	router.GET("/outbox/:id", a.GetOutboxEntry)
	router.POST("/outbox/:id/resubmit", a.ResubmitOutboxEntry)

	router.POST("/orders", a.StartOrderSaga)
	router.GET("/sagas/:order_id", a.GetSaga)
	router.POST("/sagas/reap", a.ReapSagas)

	return a.router
}

func NewAPI(c *courier.Courier) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("courier"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{courier: c, router: r}
}
