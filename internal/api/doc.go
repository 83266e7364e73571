// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/posts/{postID} (and the /p, /reel, /reels, /tv, /{username}/p, /stories aliases) for
//     the resolved post as JSON.
//   - GET /images/{postID}/{n} and /videos/{postID}/{n} for media redirects.
//   - GET /grid/{postID} for the composed image grid.
package api
