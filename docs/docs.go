// Package docs holds the OpenAPI description served at /swagger/.
// Regenerate with: swag init -g main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events": {
            "post": {
                "tags": [
                    "events"
                ],
                "summary": "Record a security event",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "Created event"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "get": {
                "tags": [
                    "events"
                ],
                "summary": "Query events",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Page of events"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/events/search": {
            "post": {
                "tags": [
                    "events"
                ],
                "summary": "Search events with field filters",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Page of events"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/events/metrics": {
            "get": {
                "tags": [
                    "metrics"
                ],
                "summary": "Event counts by type and severity",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Event metrics"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/events/{eventId}": {
            "get": {
                "tags": [
                    "events"
                ],
                "summary": "Get an event",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Event"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "eventId",
                        "name": "eventId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/analytics": {
            "get": {
                "tags": [
                    "metrics"
                ],
                "summary": "Combined analytics over a time range",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Analytics"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/alerts": {
            "get": {
                "tags": [
                    "alerts"
                ],
                "summary": "List alerts",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Page of alerts"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "alerts"
                ],
                "summary": "Create a manual alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "Created alert"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/alerts/metrics": {
            "get": {
                "tags": [
                    "metrics"
                ],
                "summary": "Alert metrics",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Alert metrics"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/alerts/{alertId}": {
            "get": {
                "tags": [
                    "alerts"
                ],
                "summary": "Get an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Alert"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "alertId",
                        "name": "alertId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/alerts/{alertId}/status": {
            "patch": {
                "tags": [
                    "alerts"
                ],
                "summary": "Change alert status",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated alert"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    },
                    "409": {
                        "description": "Invalid state transition"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "alertId",
                        "name": "alertId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/alerts/{alertId}/assign": {
            "patch": {
                "tags": [
                    "alerts"
                ],
                "summary": "Assign an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated alert"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "alertId",
                        "name": "alertId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents": {
            "get": {
                "tags": [
                    "incidents"
                ],
                "summary": "List incidents",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Page of incidents"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "incidents"
                ],
                "summary": "Open an incident",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "Created incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/metrics": {
            "get": {
                "tags": [
                    "metrics"
                ],
                "summary": "Incident metrics",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Incident metrics"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}": {
            "get": {
                "tags": [
                    "incidents"
                ],
                "summary": "Get an incident",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Incident"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/status": {
            "patch": {
                "tags": [
                    "incidents"
                ],
                "summary": "Change incident status",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    },
                    "409": {
                        "description": "Invalid state transition"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/timeline": {
            "post": {
                "tags": [
                    "incidents"
                ],
                "summary": "Append a timeline entry",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/artifacts": {
            "post": {
                "tags": [
                    "incidents"
                ],
                "summary": "Attach an artifact",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/alerts": {
            "post": {
                "tags": [
                    "incidents"
                ],
                "summary": "Link an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    },
                    "409": {
                        "description": "Invalid state transition"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/phase": {
            "patch": {
                "tags": [
                    "incidents"
                ],
                "summary": "Set the response phase",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    },
                    "409": {
                        "description": "Invalid state transition"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/assign": {
            "patch": {
                "tags": [
                    "incidents"
                ],
                "summary": "Assign an incident",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/incidents/{incidentId}/resolve": {
            "post": {
                "tags": [
                    "incidents"
                ],
                "summary": "Resolve an incident",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Resolved incident"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    },
                    "409": {
                        "description": "Invalid state transition"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "incidentId",
                        "name": "incidentId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/rules": {
            "get": {
                "tags": [
                    "rules"
                ],
                "summary": "List correlation rules",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Rules"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "rules"
                ],
                "summary": "Create a correlation rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "Created rule"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/rules/import": {
            "post": {
                "tags": [
                    "rules"
                ],
                "summary": "Import rules from JSON or YAML",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Import result"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/rules/{ruleId}": {
            "get": {
                "tags": [
                    "rules"
                ],
                "summary": "Get a rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Rule"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "ruleId",
                        "name": "ruleId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "put": {
                "tags": [
                    "rules"
                ],
                "summary": "Replace a rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated rule"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "ruleId",
                        "name": "ruleId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "delete": {
                "tags": [
                    "rules"
                ],
                "summary": "Delete a rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "204": {
                        "description": "Deleted"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "ruleId",
                        "name": "ruleId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/rules/{ruleId}/enabled": {
            "patch": {
                "tags": [
                    "rules"
                ],
                "summary": "Enable or disable a rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Updated rule"
                    },
                    "400": {
                        "description": "Validation error"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "ruleId",
                        "name": "ruleId",
                        "in": "path",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/audit": {
            "get": {
                "tags": [
                    "audit"
                ],
                "summary": "List audit records",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Audit records"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/dlq": {
            "get": {
                "tags": [
                    "dlq"
                ],
                "summary": "List dead letters",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "pending, replayed or discarded",
                        "name": "status",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Page of dead letters"
                    },
                    "400": {
                        "description": "Bad request"
                    },
                    "503": {
                        "description": "DLQ not available"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/dlq/{id}": {
            "get": {
                "tags": [
                    "dlq"
                ],
                "summary": "Get one dead letter",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Dead letter id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Dead letter"
                    },
                    "404": {
                        "description": "Not found"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "delete": {
                "tags": [
                    "dlq"
                ],
                "summary": "Discard a dead letter",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Dead letter id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Discarded dead letter"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "409": {
                        "description": "Entry is not pending"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/dlq/{id}/replay": {
            "post": {
                "tags": [
                    "dlq"
                ],
                "summary": "Replay a dead letter",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Dead letter id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Recorded event"
                    },
                    "400": {
                        "description": "Payload still invalid"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "409": {
                        "description": "Entry is not pending"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/stream": {
            "get": {
                "tags": [
                    "stream"
                ],
                "summary": "Subscribe to alert and incident changes over WebSocket",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "101": {
                        "description": "Switching protocols"
                    },
                    "401": {
                        "description": "Unauthorized"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/auth/login": {
            "post": {
                "tags": [
                    "auth"
                ],
                "summary": "Exchange credentials for a JWT",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "Token"
                    },
                    "400": {
                        "description": "Validation error"
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Watchtower SIEM API",
	Description:      "Security event ingestion, correlation, alert triage and incident management.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
