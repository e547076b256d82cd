/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

func serveHomePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		page := newPage("imposter", "imposter v"+releaseVersion+
			" signaling broker. Players connect to "+cfg.prefix+"/signal over a websocket.")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte(page)); err != nil {
			errs <- err
		}
	}
}
