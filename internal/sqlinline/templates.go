package sqlinline

const QSelectTemplateByID = `--sql b8e4d2a6-9f1c-4b7e-a3d8-5c2f9e6b4a1d
select id, title, image_url
from templates
where id = $1::uuid and status = 'published'
limit 1;
`

const QListTemplates = `--sql c1a7f5e3-2d9b-4c8f-b6a4-8e3d1c7f5b9a
select id, title, image_url, access_level, ordering
from templates
where status = 'published'
order by ordering asc, created_at desc
limit $1::int offset $2::int;
`
