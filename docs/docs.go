// Package docs registers the OpenAPI document served under /swagger.
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
        "/healthz": {
            "get": {
                "summary": "Liveness",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/events": {
            "get": {
                "summary": "List events",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "page size",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "offset",
                        "name": "offset",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.EventListResponse"
                        }
                    }
                }
            }
        },
        "/events/{id}": {
            "get": {
                "summary": "Get event",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Event ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.EventResponse"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/events/{id}/quote": {
            "get": {
                "summary": "Quote the unit price for a buyer",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Event ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "buyer address",
                        "name": "buyer",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Quote"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/events/{id}/purchases": {
            "post": {
                "summary": "Purchase tickets (idempotent)",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Event ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.PurchaseRequest"
                        }
                    },
                    {
                        "type": "string",
                        "description": "retry key",
                        "name": "Idempotency-Key",
                        "in": "header"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/domain.Purchase"
                        },
                        "headers": {
                            "Idempotency-Key": {
                                "type": "string",
                                "description": "echo"
                            }
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "402": {
                        "description": "insufficient payment",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "sold out / idem in progress",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "422": {
                        "description": "idem key reused with another body",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "429": {
                        "description": "rate limited",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/events/feed": {
            "get": {
                "summary": "Stream ledger changes",
                "description": "Upgrades to a websocket and sends one JSON message per committed change.",
                "responses": {
                    "101": {
                        "description": "Switching Protocols",
                        "schema": {
                            "$ref": "#/definitions/domain.LedgerChange"
                        }
                    }
                }
            }
        },
        "/purchases": {
            "get": {
                "summary": "List purchase records",
                "parameters": [
                    {
                        "type": "string",
                        "description": "buyer address",
                        "name": "buyer",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "Event ID",
                        "name": "event_id",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "page size",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "offset",
                        "name": "offset",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.Purchase"
                            }
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/purchases/{id}": {
            "get": {
                "summary": "Get purchase record",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Purchase ID (uuid)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Purchase"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/members/{address}": {
            "get": {
                "summary": "Get membership status",
                "parameters": [
                    {
                        "type": "string",
                        "description": "address",
                        "name": "address",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.MemberResponse"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/admin/events": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Create event",
                "parameters": [
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.CreateEventRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/httpgin.CreateEventResponse"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "401": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/admin/members": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "List verified members",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.Member"
                            }
                        }
                    },
                    "401": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/admin/members/{address}": {
            "put": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Grant or revoke membership",
                "parameters": [
                    {
                        "type": "string",
                        "description": "address",
                        "name": "address",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.SetMemberRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Member"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "401": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "domain.Quote": {
            "type": "object",
            "properties": {
                "event_id": {
                    "type": "integer"
                },
                "buyer": {
                    "type": "string"
                },
                "base_price": {
                    "type": "integer"
                },
                "price": {
                    "type": "integer"
                },
                "discounted": {
                    "type": "boolean"
                }
            }
        },
        "domain.Purchase": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "event_id": {
                    "type": "integer"
                },
                "buyer": {
                    "type": "string"
                },
                "quantity": {
                    "type": "integer"
                },
                "unit_price": {
                    "type": "integer"
                },
                "paid": {
                    "type": "integer"
                },
                "charged": {
                    "type": "integer"
                },
                "refund": {
                    "type": "integer"
                },
                "created_at": {
                    "type": "string"
                }
            }
        },
        "domain.Member": {
            "type": "object",
            "properties": {
                "address": {
                    "type": "string"
                },
                "verified": {
                    "type": "boolean"
                },
                "updated_at": {
                    "type": "string"
                }
            }
        },
        "domain.LedgerChange": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "event_id": {
                    "type": "integer"
                },
                "sold_tickets": {
                    "type": "integer"
                },
                "remaining": {
                    "type": "integer"
                },
                "ts_unix": {
                    "type": "integer"
                }
            }
        },
        "httpgin.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string"
                },
                "code": {
                    "type": "string"
                }
            }
        },
        "httpgin.CreateEventRequest": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "base_price": {
                    "type": "integer"
                },
                "total_tickets": {
                    "type": "integer"
                }
            },
            "required": [
                "name",
                "base_price",
                "total_tickets"
            ]
        },
        "httpgin.CreateEventResponse": {
            "type": "object",
            "properties": {
                "event_id": {
                    "type": "integer"
                }
            }
        },
        "httpgin.PurchaseRequest": {
            "type": "object",
            "properties": {
                "buyer": {
                    "type": "string"
                },
                "quantity": {
                    "type": "integer"
                },
                "paid_amount": {
                    "type": "integer"
                }
            },
            "required": [
                "buyer",
                "quantity",
                "paid_amount"
            ]
        },
        "httpgin.SetMemberRequest": {
            "type": "object",
            "properties": {
                "verified": {
                    "type": "boolean"
                }
            },
            "required": [
                "verified"
            ]
        },
        "httpgin.MemberResponse": {
            "type": "object",
            "properties": {
                "address": {
                    "type": "string"
                },
                "verified": {
                    "type": "boolean"
                }
            }
        },
        "httpgin.EventResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "name": {
                    "type": "string"
                },
                "base_price": {
                    "type": "integer"
                },
                "total_tickets": {
                    "type": "integer"
                },
                "sold_tickets": {
                    "type": "integer"
                },
                "remaining": {
                    "type": "integer"
                },
                "status": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                }
            }
        },
        "httpgin.EventListResponse": {
            "type": "object",
            "properties": {
                "events": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/httpgin.EventResponse"
                    }
                },
                "next_event_id": {
                    "type": "integer"
                }
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
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TixLedger API",
	Description:      "Ticket sale ledger with member pricing and atomic purchase admission.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
