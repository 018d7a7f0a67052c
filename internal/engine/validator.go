package engine

import (
	"fmt"

	"github.com/blang/semver"
	"github.com/go-playground/validator/v10"

	"github.com/fracture-labs/fracture/internal/model"
)

// structValidate is the package-wide go-playground/validator instance used
// for the schema-level half of validation (ValidationError.source ==
// "schema"), grounded on alexisbeaulieu97-Streamy's internal/config
// validator, which struct-tag-validates its config the same way.
var structValidate = validator.New()

// CollectionValidator walks a collection top-down, aggregating
// ValidationErrors from ScriptValidator and the plugin Validate() calls. It
// never executes scripts and never opens network connections (spec.md
// §4.2).
type CollectionValidator struct {
	scripts  *ScriptValidator
	protocol ProtocolPlugin
	auths    map[string]AuthPlugin
}

// NewCollectionValidator builds a validator bound to the protocol plugin (for
// events/data schema) and the auth plugins keyed by auth type.
func NewCollectionValidator(protocol ProtocolPlugin, auths map[string]AuthPlugin) *CollectionValidator {
	var events []EventDef
	if protocol != nil {
		events = protocol.Events()
	}
	return &CollectionValidator{
		scripts:  NewScriptValidator(events),
		protocol: protocol,
		auths:    auths,
	}
}

// Validate walks coll and returns every accumulated error; an empty slice
// means the collection is safe to schedule.
func (v *CollectionValidator) Validate(coll model.Collection, opts RuntimeOptions) []ValidationError {
	var errs []ValidationError
	seenIDs := map[string]bool{}

	if err := structValidate.Struct(coll); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Message: fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()),
					Source:  "schema",
				})
			}
		} else {
			errs = append(errs, ValidationError{Message: err.Error(), Source: "schema"})
		}
	}
	if coll.Info.Version != "" {
		if _, err := semver.Parse(coll.Info.Version); err != nil {
			errs = append(errs, ValidationError{
				Message: fmt.Sprintf("info.version %q is not a semantic version: %v", coll.Info.Version, err),
				Source:  "schema",
			})
		}
	}
	checkID := func(id string) {
		if id == "" {
			return
		}
		if seenIDs[id] {
			errs = append(errs, ValidationError{Message: fmt.Sprintf("duplicate item id %q", id), Source: "schema"})
			return
		}
		seenIDs[id] = true
	}

	errs = append(errs, v.scripts.Validate(coll.PreScript, ScriptCollectionPre, "", opts.Strict())...)
	errs = append(errs, v.scripts.Validate(coll.PostScript, ScriptCollectionPost, "", opts.Strict())...)
	errs = append(errs, v.scripts.Validate(coll.PreRequestScript, ScriptCollectionPreRequest, "", opts.Strict())...)
	errs = append(errs, v.scripts.Validate(coll.PostRequestScript, ScriptCollectionPostRequest, "", opts.Strict())...)
	errs = append(errs, v.validateAuth(coll.Auth, opts)...)

	var walk func(items []model.Item)
	walk = func(items []model.Item) {
		for _, item := range items {
			if item.IsFolder() {
				f := item.Folder
				checkID(f.ID)
				errs = append(errs, v.scripts.Validate(f.PreScript, ScriptFolderPre, "", opts.Strict())...)
				errs = append(errs, v.scripts.Validate(f.PostScript, ScriptFolderPost, "", opts.Strict())...)
				errs = append(errs, v.scripts.Validate(f.PreRequestScript, ScriptFolderPreRequest, "", opts.Strict())...)
				errs = append(errs, v.scripts.Validate(f.PostRequestScript, ScriptFolderPostRequest, "", opts.Strict())...)
				errs = append(errs, v.validateAuth(f.Auth, opts)...)
				walk(f.Items)
				continue
			}
			r := item.Request
			checkID(r.ID)
			errs = append(errs, v.scripts.Validate(r.PreRequestScript, ScriptRequestPre, "", opts.Strict())...)
			errs = append(errs, v.scripts.Validate(r.PostRequestScript, ScriptRequestPost, "", opts.Strict())...)
			errs = append(errs, v.validateAuth(r.Auth, opts)...)

			var eventNames []string
			for _, es := range r.Data.Scripts {
				eventNames = append(eventNames, es.Event)
				errs = append(errs, v.scripts.Validate(es.Script, ScriptPluginEvent, es.Event, opts.Strict())...)
			}
			errs = append(errs, ValidateEventUniqueness(eventNames)...)

			if v.protocol != nil {
				res := v.protocol.Validate(*r, opts)
				if !res.Valid {
					for _, m := range res.Errors {
						errs = append(errs, ValidationError{Message: m, Source: "protocol"})
					}
				}
				if sp, ok := v.protocol.(SchemaProvider); ok {
					errs = append(errs, validateAgainstSchema(sp.DataSchema(), r.Data.Extra, "protocol")...)
				}
			}
		}
	}
	walk(coll.Items)

	return errs
}

func (v *CollectionValidator) validateAuth(auth *model.Auth, opts RuntimeOptions) []ValidationError {
	if auth == nil || auth.Type == model.AuthInherit || auth.Type == model.AuthNone {
		return nil
	}
	plugin, ok := v.auths[auth.Type]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("no auth plugin registered for type %q", auth.Type), Source: "auth"}}
	}
	res := plugin.Validate(*auth, opts)
	var errs []ValidationError
	if !res.Valid {
		for _, m := range res.Errors {
			errs = append(errs, ValidationError{Message: m, Source: "auth"})
		}
	}
	if sp, ok := plugin.(SchemaProvider); ok {
		errs = append(errs, validateAgainstSchema(sp.DataSchema(), auth.Data, "auth")...)
	}
	return errs
}
