// Package http exposes the planning workspaces and the planning data over
// HTTP.
//
// The router serves:
//   - POST /v1/tenants/{tenant}/workspaces: opens a workspace for one browser
//     tab. Body {"userId","displayName"}. Response {"sessionId","tenant","userId"}.
//   - DELETE /v1/workspaces/{session}: closes the workspace and removes its
//     presence row (sign-out or unload).
//   - POST /v1/workspaces/{session}/activity, PUT .../visibility {"hidden"},
//     PUT .../hover {"collaboratorId","date"}, DELETE .../hover: presence
//     signals of the tab.
//   - PUT .../window {"start","end","startRow","endRow"} and POST .../prefetch
//     {"start","end"}: visible window changes.
//   - GET and PUT .../filter, GET .../collaborators, GET .../availabilities:
//     the filter state and the filtered views.
//   - POST .../locks {"collaboratorId","date","kind"},
//     GET and DELETE .../locks/{collaborator}/{date}: cell locks.
//   - GET .../presence: Server-Sent Events stream of the tenant's sessions.
//   - GET .../stats and GET .../export.xlsx?from=&to=.
//   - GET and POST /v1/tenants/{tenant}/collaborators, PUT and DELETE
//     .../collaborators/{id} (DELETE deactivates).
//   - GET /v1/tenants/{tenant}/availabilities?from=&to=, POST
//     .../availabilities, PUT and DELETE .../availabilities/{date}/{id}.
//   - GET /metrics and GET /healthz.
//
// Writes carry the acting user in the X-User-ID header.
package http
