package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Deals Auth API",
        "description": "Session and token lifecycle service for the deals platform",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, refresh rotation, logout and session probes"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "description": "Authenticates by email and password. The access token is returned in the body; the refresh token is delivered only as an HTTP-only cookie.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair issued", "schema": {"$ref": "#/definitions/Envelope"}},
                    "400": {"description": "Invalid payload"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "description": "Rotates the refresh token carried in the cookie and mints a new access token. The presented token is consumed; replaying it fails.",
                "responses": {
                    "200": {"description": "Rotated token pair", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "Invalid or expired refresh token"}
                }
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "description": "Revokes the refresh token and clears its cookie. Idempotent.",
                "responses": {
                    "200": {"description": "Logged out"},
                    "400": {"description": "Missing refresh cookie"}
                }
            }
        },
        "/api/v1/auth/validate-refresh-token": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Probe refresh token validity",
                "description": "Read-only probe; never rotates or consumes the token.",
                "responses": {
                    "200": {"description": "Token is valid"},
                    "401": {"description": "Invalid or expired refresh token"}
                }
            }
        },
        "/api/v1/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "Claims of the authenticated user", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "Missing or invalid access token"}
                }
            }
        },
        "/api/v1/auth/users/{id}/sessions": {
            "delete": {
                "tags": ["Authentication"],
                "summary": "Revoke all sessions for a user",
                "description": "Revokes every live refresh token the user holds. Admin only.",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Sessions revoked"},
                    "401": {"description": "Missing or invalid access token"},
                    "403": {"description": "Caller is not an admin"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "Envelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
