// Package swagger describes the admin API for the /swagger endpoint.
package swagger

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
        "/ledger/containers": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Lists tracked containers, optionally filtered by type, farm and commodity.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "List Containers",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/containers/{id}": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns one container with its batches.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Get Container",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/commands/{action}": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Runs one admin ledger command.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Execute Command",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/fill/{type}": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Reports the fill level of a game entity.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Report Fill Level",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/entities/{type}/{handle}": {
            "delete": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Drops the container bound to a removed entity.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Entity Removed",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/settings": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns the user override layer.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Get Overrides",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            },
            "put": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Replaces the override layer with a validated document.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Replace Overrides",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            },
            "delete": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Removes every user override.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Reset Overrides",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/settings/commodities": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Effective expiration of every commodity.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Explain All",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/settings/commodities/{name}": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Effective expiration of one commodity.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Explain Commodity",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            },
            "put": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Sets a period or disables expiration.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Set Commodity Override",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            },
            "delete": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Falls back to the mod default.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Clear Commodity Override",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/settings/global/{key}": {
            "put": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Sets one global setting.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Set Global",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/losses": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Most recent expiration losses, oldest first.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Loss Log",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/stats": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Registry counters and game clock.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "ledger"
                ],
                "summary": "Stats",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/snapshots": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Lists archived snapshots, newest first.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "snapshots"
                ],
                "summary": "List Snapshots",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            },
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Archives the current state.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "snapshots"
                ],
                "summary": "Save Snapshot",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ledger/snapshots/{key}": {
            "delete": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Deletes one archived snapshot.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "snapshots"
                ],
                "summary": "Delete Snapshot",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/audit": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Runs the ledger, schema, snapshot and drift checks.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "audit"
                ],
                "summary": "Run All Audits",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/audit/ledger": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Verifies ids, the reverse index, batches and the threshold cache.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "audit"
                ],
                "summary": "Check Ledger Invariants",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/audit/schema": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Checks persistence tables for missing columns.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "audit"
                ],
                "summary": "Check Database Schema",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/audit/snapshots": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Reads back the latest snapshot.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "audit"
                ],
                "summary": "Check Snapshots",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/audit/drift": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Dry-run reconciliation report.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "audit"
                ],
                "summary": "Check Drift",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/losslog/export": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Downloads the loss log as an xlsx workbook.",
                "produces": [
                    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
                ],
                "tags": [
                    "losslog"
                ],
                "summary": "Export Loss Log",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/replication/sessions": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Connected replication sessions.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "replication"
                ],
                "summary": "List Sessions",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
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
	Title:            "Perishable Ledger API",
	Description:      "Admin API for the perishable batch ledger.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
