// Package api exposes a crawl controller over a small JSON HTTP API.
//
// Routes:
//
//	POST /api/start-crawl      start a run (stops the active one first)
//	POST /api/stop-crawl       request a cooperative stop
//	GET  /api/status           status of the latest run
//	GET  /api/results          PDF records of the latest run
//	POST /api/download-pdf     download one PDF by URL
//	POST /api/download-all     download every pending PDF of the latest run
//	GET  /api/downloads/{file} serve a downloaded file as an attachment
//
// Design decision: Files are only served from directories that this server
// itself downloaded into, so the dir query parameter cannot be used to read
// arbitrary paths.
package api
