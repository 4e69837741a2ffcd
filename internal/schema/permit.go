package schema

// PermitFields is the canonical field set of the bilingual work-permit form.
// Labels are case-insensitive regexp fragments; English variants first.
var PermitFields = []Field{
	{Name: "ReferenceNo", Kind: KindNumber, Description: "reference number of the application",
		Labels: []string{`ref(?:erence)?\.?\s*(?:no|number|#)\.?`, `الرقم\s*المرجعي`, `رقم\s*المرجع`}},
	{Name: "Nationality", Kind: KindText, Description: "nationality of the holder",
		Labels: []string{`nationality`, `الجنسية`}},
	{Name: "FullName", Kind: KindText, Description: "full name of the holder",
		Labels: []string{`full\s*name`, `name`, `الاسم(?:\s*الكامل)?`}},
	{Name: "Gender", Kind: KindText, Description: "Male or Female",
		Labels: []string{`gender`, `sex`, `الجنس`}},
	{Name: "PassportNo", Kind: KindCode, Description: "passport number",
		Labels: []string{`passport\s*(?:no|number|#)\.?`, `رقم\s*(?:الجواز|جواز\s*السفر)`}},
	{Name: "Religion", Kind: KindText, Description: "religion",
		Labels: []string{`religion`, `الديانة`, `الدين`}},
	{Name: "IssuingCountry", Kind: KindText, Description: "country that issued the passport",
		Labels: []string{`issuing\s*country`, `country\s*of\s*issue`, `(?:بلد|دولة)\s*ال[إا]صدار`}},
	{Name: "MaritalStatus", Kind: KindText, Description: "Single, Married, Divorced or Widowed",
		Labels: []string{`marital\s*status`, `civil\s*status`, `الحالة\s*الاجتماعية`}},
	{Name: "PlaceOfIssue", Kind: KindText, Description: "city where the passport was issued",
		Labels: []string{`place\s*of\s*issue`, `issue\s*place`, `مكان\s*ال[إا]صدار`}},
	{Name: "DateOfBirth", Kind: KindDate, Description: "date of birth, DD/MM/YYYY",
		Labels: []string{`date\s*of\s*birth`, `birth\s*date`, `d\.?o\.?b\.?`, `تاريخ\s*الميلاد`}},
	{Name: "DateIssued", Kind: KindDate, Description: "passport issue date, DD/MM/YYYY",
		Labels: []string{`date\s*(?:of\s*)?issued?`, `issue\s*date`, `تاريخ\s*ال[إا]صدار`}},
	{Name: "Age", Kind: KindNumber, Description: "age in years",
		Labels: []string{`age`, `العمر`}},
	{Name: "DateExpiry", Kind: KindDate, Description: "passport expiry date, DD/MM/YYYY",
		Labels: []string{`date\s*(?:of\s*)?expiry`, `expiry\s*date`, `expiry`, `تاريخ\s*الانتهاء`}},
	{Name: "Height", Kind: KindMeasure, Description: "height in centimetres",
		Labels: []string{`height`, `الطول`}},
	{Name: "Weight", Kind: KindMeasure, Description: "weight in kilograms",
		Labels: []string{`weight`, `الوزن`}},
	{Name: "Skills", Kind: KindGroup, Description: "domestic work skills",
		Labels: []string{`skills`, `المهارات`},
		Fields: []Field{
			{Name: "Cooking", Kind: KindYesNo, Labels: []string{`cooking`, `الطبخ`}},
			{Name: "Cleaning", Kind: KindYesNo, Labels: []string{`cleaning`, `التنظيف`}},
			{Name: "BabySitting", Kind: KindYesNo, Labels: []string{`baby[\s-]*sitting`, `child\s*care`, `رعاية\s*الأطفال`}},
		}},
}

// Permit returns the canonical work-permit schema.
func Permit() *Schema {
	return MustNew(PermitFields)
}
