package i18n

// Codes mirrored from the errors package.
const (
	CodeShapeInvalid      = "SHAPE_INVALID"
	CodeProjectIDRequired = "PROJECT_ID_REQUIRED"
	CodeUserIDRequired    = "USER_ID_REQUIRED"
	CodeBatchEmpty        = "BATCH_EMPTY"
	CodeBatchTooLarge     = "BATCH_TOO_LARGE"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		CodeShapeInvalid:      "{{if .index}}Command {{.index}} is malformed{{else if .field}}The {{.field}} parameter is invalid{{else}}The request body is malformed{{end}}",
		CodeProjectIDRequired: "A project ID is required",
		CodeUserIDRequired:    "A user ID is required",
		CodeBatchEmpty:        "The batch contains no commands",
		CodeBatchTooLarge:     "The batch exceeds the limit of {{.limit}} commands",
		CodeNotFound:          "The requested command was not found",
		CodeInternal:          "Something went wrong on our side",
	},
}

var esESCatalog = &Catalog{
	locale: "es-ES",
	messages: map[Code]string{
		CodeShapeInvalid:      "{{if .index}}El comando {{.index}} está mal formado{{else if .field}}El parámetro {{.field}} no es válido{{else}}El cuerpo de la solicitud está mal formado{{end}}",
		CodeProjectIDRequired: "Se requiere un ID de proyecto",
		CodeUserIDRequired:    "Se requiere un ID de usuario",
		CodeBatchEmpty:        "El lote no contiene comandos",
		CodeBatchTooLarge:     "El lote supera el límite de {{.limit}} comandos",
		CodeNotFound:          "No se encontró el comando solicitado",
		CodeInternal:          "Algo salió mal de nuestro lado",
	},
}
