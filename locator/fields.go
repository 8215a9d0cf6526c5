package locator

// Logical field names shared by the recorder and the uploader.
const (
	FieldLoginEmail    = "login_email"
	FieldLoginPassword = "login_password"
	FieldLoginContinue = "login_continue"
	FieldLoginButton   = "login_button"
	FieldAddListing    = "add_listing"

	FieldTitle          = "title_input"
	FieldDescription    = "description_editor"
	FieldPrice          = "price_input"
	FieldQuantity       = "quantity_input"
	FieldImageUpload    = "image_upload"
	FieldTags           = "tags_input"
	FieldDigital        = "digital_checkbox"
	FieldCategory       = "category_button"
	FieldCategorySearch = "category_search"
	FieldCategoryResult = "category_result"
	FieldShopSection    = "shop_section_select"
	FieldPublish        = "publish_button"
	FieldSaveDraft      = "save_draft_button"

	FieldErrorMessage   = "error_message"
	FieldSuccessMessage = "success_message"
	FieldChallenge      = "verification_challenge"
)
