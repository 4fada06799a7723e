package i18n

var frFRCatalog = &Catalog{
	locale: "fr-FR",
	messages: map[Code]string{
		CodeInvalidCommand: "Commande inconnue {{.Command}}",
		CodeWrongQuantity:  "Impossible d'appliquer {{.Quantity}} à {{.Current}}",
		CodePrecondition:   "La commande n'est pas permise dans l'état actuel",

		CodeAccountAlreadyExists: "Le compte porte déjà le pseudo {{.Pseudo}}",
		CodeAccountPseudoEmpty:   "Le pseudo ne peut pas être vide",
		CodeAccountNotCreated:    "Le compte n'existe pas encore",

		CodeBankInsufficientGold: "La banque détient {{.Gold}} or, {{.Amount}} demandé",

		CodeBuildingAlreadyExists: "Le bâtiment existe déjà",
		CodeBuildingNotCreated:    "Le bâtiment n'existe pas encore",
		CodeBuildingAlreadyBuilt:  "Le bâtiment est déjà construit",

		CodeWorkerInsufficient: "Seulement {{.Available}} ouvriers disponibles, {{.Count}} demandés",

		CodeNotFound:      "La ressource demandée est introuvable",
		CodeAlreadyExists: "La ressource existe déjà",
	},
}
