// Package docs registers the OpenAPI document served at /docs/doc.json.
// Regenerate with `swag init -g cmd/api/main.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "ClimaGuard"},
        "license": {"name": "MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/subscriptions/subscribe": {
            "post": {
                "tags": ["subscriptions"],
                "summary": "Subscribe to location alerts",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handler.SubscribeRequest"}}],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/handler.MessageResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.MessageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/subscriptions/unsubscribe": {
            "post": {
                "tags": ["subscriptions"],
                "summary": "Unsubscribe",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handler.UnsubscribeRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.MessageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/push/vapid-public-key": {
            "get": {
                "tags": ["subscriptions"],
                "summary": "VAPID public key",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Push disabled", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/alerts/location": {
            "get": {
                "tags": ["alerts"],
                "summary": "Active alerts for a location",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "number", "name": "lat", "in": "query", "required": true},
                    {"type": "number", "name": "lng", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/alert.Alert"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/alerts/{alertID}": {
            "get": {
                "tags": ["alerts"],
                "summary": "Get alert",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "alertID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/alert.Alert"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/alerts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["alerts"],
                "summary": "Create operator alert",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/alert.CandidateRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.CreateAlertResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "geo.Point": {
            "type": "object",
            "properties": {"lat": {"type": "number"}, "lng": {"type": "number"}}
        },
        "subscription.Keys": {
            "type": "object",
            "properties": {"p256dh": {"type": "string"}, "auth": {"type": "string"}}
        },
        "handler.SubscribeRequest": {
            "type": "object",
            "properties": {
                "subscription": {
                    "type": "object",
                    "properties": {"endpoint": {"type": "string"}, "keys": {"$ref": "#/definitions/subscription.Keys"}}
                },
                "endpoint": {"type": "string"},
                "keys": {"$ref": "#/definitions/subscription.Keys"},
                "location": {"$ref": "#/definitions/geo.Point"}
            }
        },
        "handler.UnsubscribeRequest": {
            "type": "object",
            "properties": {"endpoint": {"type": "string"}}
        },
        "handler.MessageResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}, "id": {"type": "string"}}
        },
        "alert.CandidateRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["storm", "flood", "heatwave", "coldwave", "rain", "wind"]},
                "severity": {"type": "string", "enum": ["low", "moderate", "high", "extreme"]},
                "title": {"type": "string"},
                "message": {"type": "string"},
                "affectedArea": {"type": "object"},
                "location": {"$ref": "#/definitions/geo.Point"},
                "radius": {"type": "number"}
            }
        },
        "alert.Alert": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "type": {"type": "string"},
                "severity": {"type": "string"},
                "title": {"type": "string"},
                "message": {"type": "string"},
                "affectedArea": {"type": "object"},
                "radius": {"type": "number"},
                "triggeredAt": {"type": "string"},
                "expiresAt": {"type": "string"},
                "notifiedSubscriptionIds": {"type": "array", "items": {"type": "string"}},
                "totalUsersNotified": {"type": "integer"},
                "dispatchStatus": {"type": "string", "enum": ["pending", "dispatched"]},
                "dispatchedAt": {"type": "string"}
            }
        },
        "notifications.DispatchResult": {
            "type": "object",
            "properties": {
                "alertId": {"type": "string"},
                "total": {"type": "integer"},
                "successful": {"type": "integer"},
                "failed": {"type": "integer"},
                "gone": {"type": "integer"}
            }
        },
        "handler.CreateAlertResponse": {
            "type": "object",
            "properties": {
                "alert": {"$ref": "#/definitions/alert.Alert"},
                "dispatch": {"$ref": "#/definitions/notifications.DispatchResult"},
                "dispatchError": {"type": "string"}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {"code": {"type": "string"}, "message": {"type": "string"}, "detail": {"type": "string"}}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "ClimaGuard Alerts API",
	Description:      "Geofenced weather alert subscriptions, alert lookups and operator alerts delivered over Web Push.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
