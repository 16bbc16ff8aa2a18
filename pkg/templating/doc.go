/*
Package templating renders Drosera page templates.

A template is plain text or HTML with three kinds of markers:

	{{ user.name }}                        variable, dot path into the context
	{{ items.0 }}                          integer segments index sequences
	{% for item in items %} ... {% endfor %}
	{% if flag %} ... {% endif %}

Loops render their body once per element with the loop variable bound for
that iteration. Conditionals keep their body when the named value is truthy
and drop the whole block otherwise. Variables that cannot be resolved are left
in the output exactly as written, so mismatches between a template and its
data are visible on the page instead of failing the render. Malformed markers
are treated as literal text.

Templates are parsed once into a small node tree (see Parse) and can then be
rendered any number of times, concurrently, against different contexts.

TemplateManager loads named templates from a directory, caches the parsed
result and supports explicit invalidation, so pages can be edited while the
server runs.
*/
package templating
