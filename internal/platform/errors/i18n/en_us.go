package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeInvalidCommand        = "INVALID_COMMAND"
	CodeWrongQuantity         = "WRONG_QUANTITY"
	CodePrecondition          = "PRECONDITION"
	CodeAccountAlreadyExists  = "ACCOUNT_ALREADY_EXISTS"
	CodeAccountPseudoEmpty    = "ACCOUNT_PSEUDO_EMPTY"
	CodeAccountNotCreated     = "ACCOUNT_NOT_CREATED"
	CodeBankInsufficientGold  = "BANK_INSUFFICIENT_GOLD"
	CodeBuildingAlreadyExists = "BUILDING_ALREADY_EXISTS"
	CodeBuildingNotCreated    = "BUILDING_NOT_CREATED"
	CodeBuildingAlreadyBuilt  = "BUILDING_ALREADY_BUILT"
	CodeWorkerInsufficient    = "WORKER_INSUFFICIENT"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyExists         = "ALREADY_EXISTS"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		// Command errors
		CodeInvalidCommand: "Unknown command {{.Command}}",
		CodeWrongQuantity:  "Cannot apply {{.Quantity}} to {{.Current}}",
		CodePrecondition:   "The command is not allowed in the current state",

		// Account errors
		CodeAccountAlreadyExists: "Account already has the pseudo {{.Pseudo}}",
		CodeAccountPseudoEmpty:   "Pseudo cannot be empty",
		CodeAccountNotCreated:    "Account does not exist yet",

		// Bank errors
		CodeBankInsufficientGold: "Bank holds {{.Gold}} gold, {{.Amount}} requested",

		// Building errors
		CodeBuildingAlreadyExists: "Building already exists",
		CodeBuildingNotCreated:    "Building does not exist yet",
		CodeBuildingAlreadyBuilt:  "Building is already built",

		// Worker errors
		CodeWorkerInsufficient: "Only {{.Available}} workers available, {{.Count}} requested",

		// Storage errors
		CodeNotFound:      "The requested resource was not found",
		CodeAlreadyExists: "The resource already exists",
	},
}
